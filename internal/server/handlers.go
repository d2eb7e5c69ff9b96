package server

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/landmark-mcp/internal/heatmap"
	"github.com/ironsheep/landmark-mcp/internal/imaging"
	"github.com/ironsheep/landmark-mcp/internal/localize"
	"github.com/ironsheep/landmark-mcp/internal/metric"
	"github.com/ironsheep/landmark-mcp/internal/patch"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
	"github.com/ironsheep/landmark-mcp/pkg/log"
)

// errInvalidArguments marks failures caused by the caller's arguments rather
// than by tool execution. They are reported as JSON-RPC -32602.
var errInvalidArguments = errors.New("invalid arguments")

var validate = validator.New()

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "radiograph_load", "patch_extract").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments jsoniter.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Argument errors return -32602. Tool execution errors return -32000 with a
// trace id that also appears in the server log.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if errors.Is(err, errInvalidArguments) {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if err != nil {
		traceID := log.ErrorWithTraceID(log.Fields{
			"tool":  params.Name,
			"error": err.Error(),
		}, "[server.handleToolsCall] tool execution failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", map[string]string{
			"error":    err.Error(),
			"trace_id": traceID,
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Decodes and validates its arguments
//  2. Applies configured defaults for optional parameters
//  3. Loads radiographs from the cache as needed
//  4. Calls into the landmark core and returns its result
func (s *Server) executeTool(name string, args jsoniter.RawMessage) (interface{}, error) {
	switch name {
	case "radiograph_load":
		return s.handleRadiographLoad(args)

	// Patch geometry
	case "patch_geometry":
		return s.handlePatchGeometry(args)
	case "patch_extract":
		return s.handlePatchExtract(args)

	// Fields and scoring
	case "heatmap_locate":
		return s.handleHeatmapLocate(args)
	case "landmark_evaluate":
		return s.handleLandmarkEvaluate(args)
	case "landmark_loss_targets":
		return s.handleLandmarkLossTargets(args)

	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidArguments, name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals and validates tool arguments. Missing arguments decode
// as an empty object.
func decodeArgs(args jsoniter.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = jsoniter.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

// pointsTensor packs [x, y] pairs into a (1, L, 2) point tensor.
func pointsTensor(what string, points [][]float64) (*tensor.Dense, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s: no points", errInvalidArguments, what)
	}
	data := make([]float64, 0, 2*len(points))
	for i, p := range points {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: %s[%d]: want [x, y], got %d values", errInvalidArguments, what, i, len(p))
		}
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return nil, fmt.Errorf("%w: %s[%d]: NaN coordinate", errInvalidArguments, what, i)
		}
		data = append(data, p[0], p[1])
	}
	return tensor.FromSlice(data, 1, len(points), 2)
}

// sizeOr returns the size given by width and height, falling back to def for
// every zero dimension.
func sizeOr(width, height int, def tensor.Size) tensor.Size {
	if width == 0 {
		width = def.Width
	}
	if height == 0 {
		height = def.Height
	}
	return tensor.Size{Height: height, Width: width}
}

// === Radiograph Handlers ===

type radiographLoadArgs struct {
	Path string `json:"path" validate:"required"`
}

type radiographLoadResult struct {
	*imaging.RadiographInfo

	// Grid is the size every radiograph is resampled to before inference.
	Grid tensor.Size `json:"grid"`

	// ScaleX and ScaleY convert grid pixels to pixels of this radiograph.
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

func (s *Server) handleRadiographLoad(args jsoniter.RawMessage) (interface{}, error) {
	var a radiographLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	r, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	info := r.Info()
	return &radiographLoadResult{
		RadiographInfo: info,
		Grid:           s.cfg.Grid,
		ScaleX:         float64(info.Width) / float64(s.cfg.Grid.Width),
		ScaleY:         float64(info.Height) / float64(s.cfg.Grid.Height),
	}, nil
}

// === Patch Handlers ===

type patchGeometryArgs struct {
	X           *float64 `json:"x" validate:"required"`
	Y           *float64 `json:"y" validate:"required"`
	PatchWidth  int      `json:"patch_width" validate:"gt=0"`
	PatchHeight int      `json:"patch_height" validate:"gt=0"`
	ImageWidth  int      `json:"image_width" validate:"gt=0"`
	ImageHeight int      `json:"image_height" validate:"gt=0"`
}

type patchGeometryResult struct {
	patch.Box

	Width  int  `json:"width"`
	Height int  `json:"height"`
	Empty  bool `json:"empty"`
}

func newPatchGeometryResult(b patch.Box) patchGeometryResult {
	return patchGeometryResult{Box: b, Width: b.Width(), Height: b.Height(), Empty: b.Empty()}
}

func (s *Server) handlePatchGeometry(args jsoniter.RawMessage) (interface{}, error) {
	var a patchGeometryArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	b := patch.ComputeBox(*a.X, *a.Y,
		tensor.Size{Height: a.PatchHeight, Width: a.PatchWidth},
		tensor.Size{Height: a.ImageHeight, Width: a.ImageWidth})
	return newPatchGeometryResult(b), nil
}

type patchExtractArgs struct {
	Path        string   `json:"path" validate:"required"`
	X           *float64 `json:"x" validate:"required"`
	Y           *float64 `json:"y" validate:"required"`
	PatchWidth  int      `json:"patch_width" validate:"gte=0"`
	PatchHeight int      `json:"patch_height" validate:"gte=0"`
	Scale       float64  `json:"scale" validate:"gte=0"`
}

type patchExtractResult struct {
	Geometry patchGeometryResult `json:"geometry"`
	*imaging.PatchResult
}

func (s *Server) handlePatchExtract(args jsoniter.RawMessage) (interface{}, error) {
	var a patchExtractArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	size := sizeOr(a.PatchWidth, a.PatchHeight, s.cfg.Patch)
	ex, err := patch.NewExtractor(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
	}

	r, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	grid, err := imaging.ToGrid(r.Image, s.cfg.Grid)
	if err != nil {
		return nil, err
	}

	values := ex.Extract(grid.Plane(0, 0), s.cfg.Grid, *a.X, *a.Y)
	encoded, err := imaging.EncodePatch(values, size, a.Scale)
	if err != nil {
		return nil, err
	}
	return &patchExtractResult{
		Geometry:    newPatchGeometryResult(ex.Box(*a.X, *a.Y, s.cfg.Grid)),
		PatchResult: encoded,
	}, nil
}

// === Field Handlers ===

type heatmapLocateArgs struct {
	Points     [][]float64 `json:"points" validate:"required"`
	GridWidth  int         `json:"grid_width" validate:"gte=0"`
	GridHeight int         `json:"grid_height" validate:"gte=0"`
	Sigma      float64     `json:"sigma" validate:"gte=0"`
}

type locatedPoint struct {
	Landmark int                `json:"landmark"`
	Input    [2]float64         `json:"input"`
	Located  localize.Detection `json:"located"`
	Valid    bool               `json:"valid"`
}

type heatmapLocateResult struct {
	Grid   tensor.Size    `json:"grid"`
	Sigma  float64        `json:"sigma"`
	Points []locatedPoint `json:"points"`
}

func (s *Server) handleHeatmapLocate(args jsoniter.RawMessage) (interface{}, error) {
	var a heatmapLocateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	points, err := pointsTensor("points", a.Points)
	if err != nil {
		return nil, err
	}
	grid := sizeOr(a.GridWidth, a.GridHeight, s.cfg.Grid)
	sigma := a.Sigma
	if sigma == 0 {
		sigma = s.cfg.Sigma
	}

	heatmaps, _, err := heatmap.Build(points, grid, sigma)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	dets, err := localize.Locate(heatmaps)
	if err != nil {
		return nil, err
	}

	result := &heatmapLocateResult{Grid: grid, Sigma: sigma, Points: make([]locatedPoint, len(a.Points))}
	for j, p := range a.Points {
		result.Points[j] = locatedPoint{
			Landmark: j,
			Input:    [2]float64{p[0], p[1]},
			Located:  dets[0][j],
			Valid:    heatmap.Valid(p[0], p[1]),
		}
	}
	return result, nil
}

type landmarkLossTargetsArgs struct {
	Points     [][]float64 `json:"points" validate:"required"`
	Radius     float64     `json:"radius" validate:"gte=0"`
	GridWidth  int         `json:"grid_width" validate:"gte=0"`
	GridHeight int         `json:"grid_height" validate:"gte=0"`
}

// Range is a closed interval of observed values.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type landmarkTarget struct {
	Landmark      int     `json:"landmark"`
	Valid         bool    `json:"valid"`
	SupportPixels float64 `json:"support_pixels"`
	OffsetX       Range   `json:"offset_x"`
	OffsetY       Range   `json:"offset_y"`
}

type landmarkLossTargetsResult struct {
	Grid      tensor.Size      `json:"grid"`
	Radius    float64          `json:"radius"`
	Landmarks []landmarkTarget `json:"landmarks"`
}

func (s *Server) handleLandmarkLossTargets(args jsoniter.RawMessage) (interface{}, error) {
	var a landmarkLossTargetsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	points, err := pointsTensor("points", a.Points)
	if err != nil {
		return nil, err
	}
	grid := sizeOr(a.GridWidth, a.GridHeight, s.cfg.Grid)
	radius := a.Radius
	if radius == 0 {
		radius = s.cfg.Radius
	}

	ref, err := heatmap.NewReferenceGrids(grid, radius, radius)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	disks, mask, err := ref.BuildDisk(points)
	if err != nil {
		return nil, err
	}
	offsets, err := ref.BuildOffsets(points)
	if err != nil {
		return nil, err
	}

	n := grid.Height * grid.Width
	data := offsets.Data()
	result := &landmarkLossTargetsResult{Grid: grid, Radius: radius, Landmarks: make([]landmarkTarget, points.Dim(1))}
	for j := range result.Landmarks {
		disk := disks.Plane(0, j)
		ox := data[offsets.Offset(0, j, 0, 0, 0):][:n]
		oy := data[offsets.Offset(0, j, 1, 0, 0):][:n]

		t := landmarkTarget{
			Landmark:      j,
			Valid:         mask.At(0, j, 0, 0) > 0,
			SupportPixels: floats.Sum(disk),
			OffsetX:       Range{Min: math.Inf(1), Max: math.Inf(-1)},
			OffsetY:       Range{Min: math.Inf(1), Max: math.Inf(-1)},
		}
		for i, d := range disk {
			if d == 0 {
				continue
			}
			t.OffsetX.Min = math.Min(t.OffsetX.Min, ox[i])
			t.OffsetX.Max = math.Max(t.OffsetX.Max, ox[i])
			t.OffsetY.Min = math.Min(t.OffsetY.Min, oy[i])
			t.OffsetY.Max = math.Max(t.OffsetY.Max, oy[i])
		}
		if t.SupportPixels == 0 {
			t.OffsetX, t.OffsetY = Range{}, Range{}
		}
		result.Landmarks[j] = t
	}
	return result, nil
}

// === Scoring Handlers ===

type landmarkEvaluateArgs struct {
	Predictions [][]float64 `json:"predictions" validate:"required"`
	Targets     [][]float64 `json:"targets" validate:"required"`
	Spacing     float64     `json:"spacing" validate:"gte=0"`
	PointIDs    []string    `json:"point_ids"`
}

func (s *Server) handleLandmarkEvaluate(args jsoniter.RawMessage) (interface{}, error) {
	var a landmarkEvaluateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	pred, err := pointsTensor("predictions", a.Predictions)
	if err != nil {
		return nil, err
	}
	target, err := pointsTensor("targets", a.Targets)
	if err != nil {
		return nil, err
	}

	ev := s.metric
	if a.Spacing > 0 || len(a.PointIDs) > 0 {
		cfg := metric.DefaultConfig()
		cfg.Spacing = s.cfg.Spacing
		if a.Spacing > 0 {
			cfg.Spacing = a.Spacing
		}
		cfg.PointIDs = a.PointIDs
		if ev, err = metric.New(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
		}
	}

	report, err := ev.Evaluate(pred, target)
	if err != nil {
		if errors.Is(err, tensor.ErrShapeMismatch) || errors.Is(err, tensor.ErrInvalidShape) {
			return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
		}
		return nil, err
	}
	return report, nil
}
