package server

import (
	"testing"
)

func toolMap() map[string]Tool {
	m := make(map[string]Tool)
	for _, tool := range GetToolDefinitions() {
		m[tool.Name] = tool
	}
	return m
}

func TestGetToolDefinitions(t *testing.T) {
	expectedTools := []string{
		"radiograph_load",
		"patch_geometry",
		"patch_extract",
		"heatmap_locate",
		"landmark_evaluate",
		"landmark_loss_targets",
	}

	tools := toolMap()
	if len(tools) != len(expectedTools) {
		t.Errorf("got %d tools, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}

			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}
			required, ok := tool.InputSchema["required"].([]string)
			if !ok {
				t.Fatal("'required' should be a string slice")
			}
			for _, r := range required {
				if _, ok := props[r]; !ok {
					t.Errorf("required parameter %s has no property", r)
				}
			}
		})
	}
}

// Every tool must be routed by executeTool, so an empty call never reports an
// unknown tool.
func TestToolDefinitions_Dispatched(t *testing.T) {
	s := newTestServer(t)
	for name := range toolMap() {
		_, err := s.executeTool(name, nil)
		if err != nil && err.Error() == "invalid arguments: unknown tool: "+name {
			t.Errorf("tool %s is listed but not dispatched", name)
		}
	}
}

func TestToolDefinitions_RequiredPath(t *testing.T) {
	tools := toolMap()
	for _, name := range []string{"radiograph_load", "patch_extract"} {
		t.Run(name, func(t *testing.T) {
			required, _ := tools[name].InputSchema["required"].([]string)
			hasPath := false
			for _, r := range required {
				if r == "path" {
					hasPath = true
					break
				}
			}
			if !hasPath {
				t.Error("Tool should require 'path' parameter")
			}
		})
	}
}
