package pgconn

import (
	"errors"
	"fmt"

	"github.com/mevdschee/chopin/pgwire"
)

// ErrNoRows is returned by QueryRow when the query produced zero rows.
var ErrNoRows = errors.New("pgconn: no rows in result set")

// ProtocolError signals a malformed or unexpected wire message.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "pgconn: protocol error: " + e.Detail }

// AuthError signals a failure during the startup/authentication
// handshake (unsupported method, bad password, SCRAM verification
// failure).
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string { return "pgconn: auth error: " + e.Detail }

// ServerError wraps an ErrorResponse sent by the backend. Severity and
// Code mirror libpq's SQLSTATE conventions; Message is the 'M' field.
type ServerError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Fields   []pgwire.ErrorField
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("pgconn: server error: %s [%s] %s", e.Severity, e.Code, e.Message)
}

func serverErrorFromFields(fields []pgwire.ErrorField) *ServerError {
	se := &ServerError{Fields: fields}
	for _, f := range fields {
		switch f.Code {
		case 'S':
			se.Severity = f.Value
		case 'C':
			se.Code = f.Value
		case 'M':
			se.Message = f.Value
		case 'D':
			se.Detail = f.Value
		}
	}
	return se
}

// TypeConversionError signals a failure converting a wire-format column
// value into a requested Go type.
type TypeConversionError struct {
	Column string
	Target string
	Value  []byte
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("pgconn: cannot convert column %q (%q) to %s", e.Column, e.Value, e.Target)
}
