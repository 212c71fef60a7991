package inference

// extractResponseSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map describing a well-formed /extract response. The service bundles
// other diagnostics (timings, GPU name) alongside; only the nested extraction
// result is constrained.
func extractResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"parse_ocr_result": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name_cn":      nullableString(),
					"name_pinyin":  nullableString(),
					"birthday":     nullableString(),
					"baptism_date": nullableString(),
				},
			},
		},
		"required": []string{"parse_ocr_result"},
	}
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}
