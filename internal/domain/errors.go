package domain

import "errors"

// Reasons an observation is dropped. None of them is fatal to the engine.
var (
	ErrUnresolvableLocation   = errors.New("unresolvable location")
	ErrLanguageMismatch       = errors.New("language mismatch")
	ErrMalformedExplicitQuake = errors.New("malformed explicit quake")
	ErrLookupUnavailable      = errors.New("lookup unavailable")
	ErrStaleEvent             = errors.New("stale event")
	ErrDuplicateObservation   = errors.New("duplicate observation")
	ErrUnsupportedFormat      = errors.New("unsupported format")
)

var dropReasons = []struct {
	err   error
	label string
}{
	{ErrUnresolvableLocation, "unresolvable_location"},
	{ErrLanguageMismatch, "language_mismatch"},
	{ErrMalformedExplicitQuake, "malformed_explicit_quake"},
	{ErrLookupUnavailable, "lookup_unavailable"},
	{ErrStaleEvent, "stale_event"},
	{ErrDuplicateObservation, "duplicate"},
	{ErrUnsupportedFormat, "unsupported_format"},
}

// DropReason maps an error to a stable metric label.
func DropReason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range dropReasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
