package httpdto

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`

	// Retryable marks failures the client may retry with the same idempotency key.
	Retryable bool `json:"retryable,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

func NewRetryableErrorResponse(err string, code string) Response[any] {
	resp := NewErrorResponse(err, code)
	resp.Retryable = true
	return resp
}
