package middleware

// errorBody is the JSON error envelope the intake client understands.
func errorBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	}
}
