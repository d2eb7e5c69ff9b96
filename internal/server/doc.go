// Package server implements the MCP (Model Context Protocol) server for the
// landmark tools.
//
// This package provides a JSON-RPC 2.0 server that exposes the landmark core
// (patch geometry, heatmap fields, localization and scoring) through the MCP
// protocol, so a client can inspect radiographs and check predictions against
// ground truth.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Radiographs:
//   - radiograph_load: Load a radiograph and report its size against the grid
//
// Patches:
//   - patch_geometry: Clip a centred patch against image bounds
//   - patch_extract: Cut a normalized grid patch and return it as PNG
//
// Fields and scoring:
//   - heatmap_locate: Render Gaussian heatmaps and recover points by argmax
//   - landmark_evaluate: Radial error and success rates in millimetres
//   - landmark_loss_targets: Summarize disk and offset training targets
//
// Coordinates are [x, y] pairs in pixels. A negative coordinate marks a missing
// landmark.
//
// # Radiograph Caching
//
// Decoded radiographs are cached by path, up to the configured cache size.
//
// # Error Handling
//
// Errors are returned as JSON-RPC error responses:
//   - -32700: the request line is not JSON
//   - -32601: unknown method
//   - -32602: unknown tool or invalid arguments
//   - -32000: tool execution failure; data carries the error and a trace id
//     that is also written to the log
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(cfg)
//	if err != nil {
//	    return err
//	}
//	return srv.Run()
package server
