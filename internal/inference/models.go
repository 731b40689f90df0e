package inference

// ResolveModel maps a friendly model name to a provider model ID. Names
// that are not in models are used as-is.
func ResolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
