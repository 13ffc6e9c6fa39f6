package upstream

// ErrorClass is the explicit classification table called for by design
// note 9(c), replacing substring matching on the upstream's error text.
type ErrorClass int

const (
	// ClassBusiness is a refused order or query the upstream rejected on
	// its own terms (insufficient margin, market closed, bad price). The
	// session stays ready; the current request simply fails.
	ClassBusiness ErrorClass = iota

	// ClassTransient is a condition that should drive the session into
	// reconnecting: token expiry, dropped socket, signature timestamp
	// skew.
	ClassTransient

	// ClassValidation is a caller error caught before any upstream call
	// was made.
	ClassValidation
)

// ClassifiedError is an upstream failure tagged with its ErrorClass and the
// underlying cause.
type ClassifiedError struct {
	Class ErrorClass
	Code  string
	Err   error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// transientCodes is the explicit table of upstream error codes that mean
// the session itself is unhealthy, not just the current request.
var transientCodes = map[string]bool{
	"TOKEN_EXPIRED":            true,
	"SOCKET_DROPPED":           true,
	"SIGNATURE_TIMESTAMP_SKEW": true,
	"CONNECTION_RESET":         true,
	"HEARTBEAT_TIMEOUT":        true,
}

// ClassifyError maps an upstream error code to its class. Unknown codes are
// treated as business errors: a failure mode we haven't seen is safer
// surfaced to the caller than used to tear down a working session.
func ClassifyError(code string, err error) *ClassifiedError {
	class := ClassBusiness
	if transientCodes[code] {
		class = ClassTransient
	}
	return &ClassifiedError{Class: class, Code: code, Err: err}
}

// IsTransient reports whether err (when it is a *ClassifiedError) should
// drive the session manager into reconnecting.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	if e, ok := err.(*ClassifiedError); ok {
		ce = e
	}
	return ce != nil && ce.Class == ClassTransient
}
