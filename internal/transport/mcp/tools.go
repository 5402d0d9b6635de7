package mcp

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props, "additionalProperties": false}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

var nameSchema = object(map[string]any{"name": map[string]any{"type": "string"}}, "name")

var tools = []tool{
	{
		Name:        "p2s.build",
		Description: "Build a structure at origin from a prompt, a saved script name or an inline script document.",
		InputSchema: object(map[string]any{
			"prompt":      map[string]any{"type": "string"},
			"script_name": map[string]any{"type": "string"},
			"script":      map[string]any{"type": []string{"object", "string"}},
			"origin":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "minItems": 3, "maxItems": 3},
			"rotation":    map[string]any{"type": "integer"},
		}),
	},
	{
		Name:        "p2s.list_scripts",
		Description: "List the latest saved scripts, newest first.",
		InputSchema: object(map[string]any{"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxLimit}}),
	},
	{
		Name:        "p2s.get_script",
		Description: "Fetch a saved script document by name.",
		InputSchema: nameSchema,
	},
	{
		Name:        "p2s.delete_script",
		Description: "Delete a saved script by name.",
		InputSchema: nameSchema,
	},
	{
		Name:        "p2s.resolve",
		Description: "Show which catalog block each id resolves to (exact, fuzzy or fallback).",
		InputSchema: object(map[string]any{"ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}}, "ids"),
	},
	{
		Name:        "p2s.world",
		Description: "Voxel count, chunk count and digest of the world.",
		InputSchema: object(map[string]any{}),
	},
}

func isKnownTool(name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
