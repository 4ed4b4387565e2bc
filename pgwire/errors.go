package pgwire

import "errors"

var (
	errInvalidLength     = errors.New("pgwire: message length field below minimum of 4")
	errMessageTooLarge   = errors.New("pgwire: message length exceeds MaxMessageLength")
	errTruncatedCString  = errors.New("pgwire: unterminated C string in message body")
	errTruncatedField    = errors.New("pgwire: message body shorter than declared field width")
	errUnknownFieldCount = errors.New("pgwire: negative field/column count")
)
