package pgwire

import "encoding/binary"

// appendInt32 appends a big-endian int32 to dst.
func appendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}

// appendInt16 appends a big-endian int16 to dst.
func appendInt16(dst []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(dst, uint16(v))
}

// appendCString appends s followed by a NUL terminator.
func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// frame wraps body with a tag byte and a big-endian length prefix
// covering itself and body, and appends the result to dst.
func frame(dst []byte, tag byte, body []byte) []byte {
	dst = append(dst, tag)
	dst = appendInt32(dst, int32(len(body)+4))
	return append(dst, body...)
}

// StartupMessage builds the untagged startup packet: protocol version
// followed by alternating "key\x00value\x00" parameter pairs and a
// trailing NUL. params must include at least "user".
func StartupMessage(dst []byte, params map[string]string) []byte {
	body := appendInt32(nil, ProtocolVersion3)
	// "user" first for readability/determinism; order otherwise doesn't
	// matter to the server.
	if user, ok := params["user"]; ok {
		body = appendCString(body, "user")
		body = appendCString(body, user)
	}
	for k, v := range params {
		if k == "user" {
			continue
		}
		body = appendCString(body, k)
		body = appendCString(body, v)
	}
	body = append(body, 0)

	dst = appendInt32(dst, int32(len(body)+4))
	return append(dst, body...)
}

// PasswordMessage builds a PasswordMessage ('p') carrying a cleartext
// or MD5-hashed password string.
func PasswordMessage(dst []byte, password string) []byte {
	body := appendCString(nil, password)
	return frame(dst, TagPasswordMessage, body)
}

// SASLInitialResponse builds a PasswordMessage ('p') whose body selects
// a SASL mechanism and carries the client-first-message.
func SASLInitialResponse(dst []byte, mechanism string, clientFirst []byte) []byte {
	body := appendCString(nil, mechanism)
	body = appendInt32(body, int32(len(clientFirst)))
	body = append(body, clientFirst...)
	return frame(dst, TagPasswordMessage, body)
}

// SASLResponse builds a PasswordMessage ('p') carrying the raw SASL
// response bytes (client-final-message) with no mechanism name.
func SASLResponse(dst []byte, response []byte) []byte {
	return frame(dst, TagPasswordMessage, response)
}

// Query builds a simple-query message ('Q').
func Query(dst []byte, sql string) []byte {
	return frame(dst, TagQuery, appendCString(nil, sql))
}

// Parse builds a Parse message ('P'): a named (or unnamed, name="")
// prepared statement, the SQL text, and explicit parameter type OIDs
// (0 lets the server infer a type).
func Parse(dst []byte, name, sql string, paramTypes []uint32) []byte {
	body := appendCString(nil, name)
	body = appendCString(body, sql)
	body = appendInt16(body, int16(len(paramTypes)))
	for _, oid := range paramTypes {
		body = binary.BigEndian.AppendUint32(body, oid)
	}
	return frame(dst, TagParse, body)
}

// BindParam is one parameter value for a Bind message. Null values are
// represented by Value == nil.
type BindParam struct {
	Value []byte
}

// Bind builds a Bind message ('B') binding portal to statement with
// params, requesting text format (0) for every result column, or
// binary format (1) when resultFormatsBinary is set.
func Bind(dst []byte, portal, statement string, params []BindParam, resultFormatsBinary bool) []byte {
	body := appendCString(nil, portal)
	body = appendCString(body, statement)

	// Parameter format codes: a single text (0) code that applies to
	// every parameter.
	body = appendInt16(body, 1)
	body = appendInt16(body, 0)

	body = appendInt16(body, int16(len(params)))
	for _, p := range params {
		if p.Value == nil {
			body = appendInt32(body, -1)
			continue
		}
		body = appendInt32(body, int32(len(p.Value)))
		body = append(body, p.Value...)
	}

	body = appendInt16(body, 1)
	if resultFormatsBinary {
		body = appendInt16(body, 1)
	} else {
		body = appendInt16(body, 0)
	}
	return frame(dst, TagBind, body)
}

// Describe builds a Describe message ('D') for a statement or portal.
func Describe(dst []byte, target DescribeTarget, name string) []byte {
	body := append([]byte{byte(target)}, appendCString(nil, name)...)
	return frame(dst, TagDescribe, body)
}

// Execute builds an Execute message ('E'). maxRows of 0 means "no
// limit".
func Execute(dst []byte, portal string, maxRows int32) []byte {
	body := appendCString(nil, portal)
	body = appendInt32(body, maxRows)
	return frame(dst, TagExecute, body)
}

// Close builds a Close message ('C') for a statement or portal.
func Close(dst []byte, target CloseTarget, name string) []byte {
	body := append([]byte{byte(target)}, appendCString(nil, name)...)
	return frame(dst, TagClose, body)
}

// Sync builds a Sync message ('S'), the Extended Query flow's
// synchronization point.
func Sync(dst []byte) []byte {
	return frame(dst, TagSync, nil)
}

// Flush builds a Flush message ('H').
func Flush(dst []byte) []byte {
	return frame(dst, TagFlush, nil)
}

// Terminate builds a Terminate message ('X'), the graceful-disconnect
// signal.
func Terminate(dst []byte) []byte {
	return frame(dst, TagTerminate, nil)
}

// CopyData builds a CopyData message ('d') carrying one chunk of
// COPY-in payload.
func CopyData(dst []byte, chunk []byte) []byte {
	return frame(dst, TagFrontendCopyData, chunk)
}

// CopyDone builds a CopyDone message ('c'), ending a COPY IN stream.
func CopyDone(dst []byte) []byte {
	return frame(dst, TagFrontendCopyDone, nil)
}

// CopyFail builds a CopyFail message ('f'), aborting a COPY IN stream
// with an explanatory message.
func CopyFail(dst []byte, reason string) []byte {
	return frame(dst, TagCopyFail, appendCString(nil, reason))
}
