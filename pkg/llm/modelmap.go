package llm

// defaultLegacyModels maps retired model names to their current equivalents.
// Agents persisted before a model's retirement keep working without edits.
var defaultLegacyModels = map[string]string{
	"gemini-pro":             "gemini-2.5-pro",
	"gemini-1.5-pro":         "gemini-2.5-pro",
	"gemini-1.5-pro-latest":  "gemini-2.5-pro",
	"gemini-1.5-flash":       "gemini-2.5-flash",
	"gemini-1.5-flash-8b":    "gemini-2.5-flash-lite",
	"gemini-2.0-flash":       "gemini-2.5-flash",
	"gemini-2.0-flash-lite":  "gemini-2.5-flash-lite",
	"gemini-2.0-flash-exp":   "gemini-2.5-flash",
	"gemini-exp-1206":        "gemini-2.5-pro",
}

// ResolveModel substitutes a retired model name, preferring overrides from
// configuration over the built-in table. Unknown names pass through.
func ResolveModel(model string, overrides map[string]string) string {
	if repl, ok := overrides[model]; ok {
		return repl
	}
	if repl, ok := defaultLegacyModels[model]; ok {
		return repl
	}
	return model
}
