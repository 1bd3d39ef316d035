package stagepool

// ResourceExhaustedError is returned by Allocate when no idle stage is
// available and an on-demand create also failed.
type ResourceExhaustedError struct {
	Cause error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Cause != nil {
		return "stage pool exhausted: " + e.Cause.Error()
	}
	return "stage pool exhausted"
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }
