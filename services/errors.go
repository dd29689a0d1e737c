package services

// ValidationError is a bad request parameter. It never reaches an upstream.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
