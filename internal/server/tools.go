package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func numberProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

// pointsProp describes a list of [x, y] pairs. Negative coordinates mark a
// missing landmark.
func pointsProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type":     "array",
			"items":    map[string]interface{}{"type": "number"},
			"minItems": 2,
			"maxItems": 2,
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "radiograph_load",
			Description: "Load a radiograph and return its dimensions, format and the model grid it is resampled to. The decoded image is cached for later calls.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the radiograph (PNG, JPEG, GIF, BMP or TIFF)",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "patch_geometry",
			Description: "Compute where a patch centred on (x, y) lands inside an image and inside the patch canvas after clipping to the image bounds. Ranges are half-open.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"x":            numberProp("Centre X coordinate in image pixels"),
					"y":            numberProp("Centre Y coordinate in image pixels"),
					"patch_width":  integerProp("Patch width in pixels"),
					"patch_height": integerProp("Patch height in pixels"),
					"image_width":  integerProp("Image width in pixels"),
					"image_height": integerProp("Image height in pixels"),
				},
				"required": []string{"x", "y", "patch_width", "patch_height", "image_width", "image_height"},
			},
		},
		{
			Name:        "patch_extract",
			Description: "Resample a radiograph to the model grid, normalize it and cut the patch centred on (x, y) in grid pixels. Pixels outside the image are zero. Returns the placement and a base64 PNG of the patch.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the radiograph",
					},
					"x":            numberProp("Centre X coordinate in grid pixels"),
					"y":            numberProp("Centre Y coordinate in grid pixels"),
					"patch_width":  integerProp("Optional patch width. Defaults to the configured patch size"),
					"patch_height": integerProp("Optional patch height. Defaults to the configured patch size"),
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor for the returned PNG. Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x", "y"},
			},
		},
		{
			Name:        "heatmap_locate",
			Description: "Render a Gaussian heatmap for each landmark on the model grid and recover its integer position by argmax. Useful for checking how coordinates round on the grid.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"points":      pointsProp("Landmark coordinates as [x, y] in grid pixels"),
					"grid_width":  integerProp("Optional grid width. Defaults to the configured grid"),
					"grid_height": integerProp("Optional grid height. Defaults to the configured grid"),
					"sigma":       numberProp("Optional Gaussian standard deviation in pixels"),
				},
				"required": []string{"points"},
			},
		},
		{
			Name:        "landmark_evaluate",
			Description: "Score predicted landmarks against ground truth in millimetres: mean and standard deviation of the radial error, per landmark means and success rates within 1 to 4 mm. Targets with a negative coordinate are ignored.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"predictions": pointsProp("Predicted [x, y] per landmark in original pixels"),
					"targets":     pointsProp("Ground truth [x, y] per landmark in original pixels"),
					"spacing":     numberProp("Optional pixel spacing in millimetres"),
					"point_ids": map[string]interface{}{
						"type":        "array",
						"description": "Optional landmark names, one per point",
						"items":       map[string]interface{}{"type": "string"},
					},
				},
				"required": []string{"predictions", "targets"},
			},
		},
		{
			Name:        "landmark_loss_targets",
			Description: "Build the binary disk heatmaps and offset fields used to train the offset model and summarize them per landmark: support size and offset range inside the disk.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"points":      pointsProp("Landmark coordinates as [x, y] in grid pixels"),
					"radius":      numberProp("Optional disk radius in pixels. Defaults to the configured radius"),
					"grid_width":  integerProp("Optional grid width. Defaults to the configured grid"),
					"grid_height": integerProp("Optional grid height. Defaults to the configured grid"),
				},
				"required": []string{"points"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
