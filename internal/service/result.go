package service

// Result is the envelope returned by lifecycle operations. Err keeps the
// typed error so callers can map it to a transport status.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Err     error  `json:"-"`
}

func ok(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func failed(err error) Result {
	return Result{Success: false, Message: err.Error(), Err: err}
}
