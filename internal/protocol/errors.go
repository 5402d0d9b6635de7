package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBusy            = "E_BUSY"

	// Script and build failures.
	ErrMalformedDocument = "E_MALFORMED_DOCUMENT"
	ErrSchemaMismatch    = "E_SCHEMA_MISMATCH"
	ErrEmptyScript       = "E_EMPTY_SCRIPT"
	ErrTooLarge          = "E_TOO_LARGE"
	ErrLLM               = "E_LLM"
	ErrNotFound          = "E_NOT_FOUND"
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBusy:              {},
	ErrMalformedDocument: {},
	ErrSchemaMismatch:    {},
	ErrEmptyScript:       {},
	ErrTooLarge:          {},
	ErrLLM:               {},
	ErrNotFound:          {},
	ErrBadRequest:        {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
