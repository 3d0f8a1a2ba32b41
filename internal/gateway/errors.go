package gateway

import "fmt"

// Kind classifies gateway failures.
type Kind string

const (
	KindScript   Kind = "script"
	KindOrder    Kind = "order"
	KindCheckout Kind = "checkout"
	KindVerify   Kind = "verify"
)

// Error is a gateway failure. Message is the backend's own explanation when
// it sent one.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind) + " failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }
