package shield

import "errors"

// Outcome classifies a probe of a string that may or may not be a token.
type Outcome int

const (
	Unshielded Outcome = iota
	NotShielded
	Malformed
	IntegrityFailure
)

func (o Outcome) String() string {
	switch o {
	case Unshielded:
		return "unshielded"
	case NotShielded:
		return "not-shielded"
	case Malformed:
		return "malformed"
	case IntegrityFailure:
		return "integrity-failure"
	default:
		return "unknown"
	}
}

// Result is the typed answer of TryUnshield. Plaintext is set only when
// Outcome is Unshielded.
type Result struct {
	Plaintext string
	Outcome   Outcome
}

// OK reports whether the token decoded.
func (r Result) OK() bool { return r.Outcome == Unshielded }

// TryUnshield probes s without treating a non-token as an error.
func TryUnshield(s string, key []byte) Result {
	return NewCodec(key).TryUnshield(s)
}

// Reveal returns the plaintext of s when it is a valid token and s otherwise.
func Reveal(s string, key []byte) string {
	return NewCodec(key).Reveal(s)
}

// TryUnshield probes s.
func (c *Codec) TryUnshield(s string) Result {
	plain, err := c.Unshield(s)
	switch {
	case err == nil:
		return Result{Plaintext: plain, Outcome: Unshielded}
	case errors.Is(err, ErrNotShielded):
		return Result{Outcome: NotShielded}
	case errors.Is(err, ErrMalformed):
		return Result{Outcome: Malformed}
	default:
		return Result{Outcome: IntegrityFailure}
	}
}

// Reveal is the best-effort decode used on strings that are only sometimes shielded.
func (c *Codec) Reveal(s string) string {
	if r := c.TryUnshield(s); r.OK() {
		return r.Plaintext
	}
	return s
}
