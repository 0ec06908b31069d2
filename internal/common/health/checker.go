package health

// Checker reports nil when the thing it watches is healthy.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to a Checker.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}
