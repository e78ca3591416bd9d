package controller

// controllerError is this package's self-contained error type; see the
// same idiom in wire/rpcqueue/loop for why it does not import the
// top-level package.
type controllerError struct {
	kind string
	msg  string
}

func (e *controllerError) Error() string { return e.msg }

const (
	KindInvalidArgument = "invalid_argument"
	KindInvalidState    = "invalid_state"
)

// Kind reports the classification of an error returned by this package, or
// "" if err did not originate here.
func Kind(err error) string {
	if e, ok := err.(*controllerError); ok {
		return e.kind
	}
	return ""
}
