package pgwire

import (
	"encoding/binary"
	"fmt"
)

// readCString reads a NUL-terminated string at the front of buf,
// returning the string (without the terminator) and the remainder.
func readCString(buf []byte) (string, []byte, error) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), buf[i+1:], nil
		}
	}
	return "", nil, errTruncatedCString
}

func readInt16(buf []byte) (int16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, errTruncatedField
	}
	return int16(binary.BigEndian.Uint16(buf[:2])), buf[2:], nil
}

func readInt32(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errTruncatedField
	}
	return int32(binary.BigEndian.Uint32(buf[:4])), buf[4:], nil
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errTruncatedField
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

// AuthRequest is the decoded payload of an AuthenticationRequest ('R')
// message. Kind is one of the Auth* constants; Data carries the salt
// (AuthMD5Password) or the SASL mechanism/challenge bytes
// (AuthSASL/AuthSASLContinue/AuthSASLFinal).
type AuthRequest struct {
	Kind int32
	Data []byte
}

// DecodeAuthRequest decodes an AuthenticationRequest body.
func DecodeAuthRequest(body []byte) (AuthRequest, error) {
	kind, rest, err := readInt32(body)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("pgwire: AuthenticationRequest: %w", err)
	}
	return AuthRequest{Kind: kind, Data: rest}, nil
}

// DecodeSASLMechanisms splits the NUL-terminated, double-NUL-ended list
// of SASL mechanism names offered by an AuthenticationSASL (kind 10)
// payload.
func DecodeSASLMechanisms(data []byte) ([]string, error) {
	var out []string
	for len(data) > 0 && data[0] != 0 {
		name, rest, err := readCString(data)
		if err != nil {
			return nil, fmt.Errorf("pgwire: SASL mechanism list: %w", err)
		}
		out = append(out, name)
		data = rest
	}
	return out, nil
}

// ParameterStatus is the decoded payload of a ParameterStatus ('S')
// message.
type ParameterStatus struct {
	Name  string
	Value string
}

func DecodeParameterStatus(body []byte) (ParameterStatus, error) {
	name, rest, err := readCString(body)
	if err != nil {
		return ParameterStatus{}, fmt.Errorf("pgwire: ParameterStatus name: %w", err)
	}
	value, _, err := readCString(rest)
	if err != nil {
		return ParameterStatus{}, fmt.Errorf("pgwire: ParameterStatus value: %w", err)
	}
	return ParameterStatus{Name: name, Value: value}, nil
}

// BackendKeyData is the decoded payload of a BackendKeyData ('K')
// message, needed to issue a CancelRequest.
type BackendKeyData struct {
	ProcessID int32
	SecretKey int32
}

func DecodeBackendKeyData(body []byte) (BackendKeyData, error) {
	pid, rest, err := readInt32(body)
	if err != nil {
		return BackendKeyData{}, fmt.Errorf("pgwire: BackendKeyData pid: %w", err)
	}
	secret, _, err := readInt32(rest)
	if err != nil {
		return BackendKeyData{}, fmt.Errorf("pgwire: BackendKeyData secret: %w", err)
	}
	return BackendKeyData{ProcessID: pid, SecretKey: secret}, nil
}

// TransactionStatus is the single-byte payload of ReadyForQuery.
type TransactionStatus byte

const (
	TxIdle          TransactionStatus = 'I'
	TxInTransaction TransactionStatus = 'T'
	TxFailed        TransactionStatus = 'E'
)

func DecodeReadyForQuery(body []byte) (TransactionStatus, error) {
	if len(body) < 1 {
		return 0, errTruncatedField
	}
	return TransactionStatus(body[0]), nil
}

// ColumnDescriptor describes one result column from a RowDescription
// message.
type ColumnDescriptor struct {
	Name         string
	TableOID     uint32
	ColumnAttr   int16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	Format       int16
}

// DecodeRowDescription decodes a RowDescription ('T') body into its
// column list.
func DecodeRowDescription(body []byte) ([]ColumnDescriptor, error) {
	n, rest, err := readInt16(body)
	if err != nil {
		return nil, fmt.Errorf("pgwire: RowDescription count: %w", err)
	}
	if n < 0 {
		return nil, errUnknownFieldCount
	}
	cols := make([]ColumnDescriptor, 0, n)
	for i := int16(0); i < n; i++ {
		var col ColumnDescriptor
		col.Name, rest, err = readCString(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] name: %w", i, err)
		}
		tableOID, r2, err := readUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] table oid: %w", i, err)
		}
		col.TableOID = tableOID
		rest = r2
		attr, r3, err := readInt16(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] attr: %w", i, err)
		}
		col.ColumnAttr = attr
		rest = r3
		typeOID, r4, err := readUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] type oid: %w", i, err)
		}
		col.TypeOID = typeOID
		rest = r4
		typeSize, r5, err := readInt16(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] type size: %w", i, err)
		}
		col.TypeSize = typeSize
		rest = r5
		typeMod, r6, err := readInt32(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] type mod: %w", i, err)
		}
		col.TypeModifier = typeMod
		rest = r6
		format, r7, err := readInt16(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: RowDescription[%d] format: %w", i, err)
		}
		col.Format = format
		rest = r7
		cols = append(cols, col)
	}
	return cols, nil
}

// DecodeDataRow decodes a DataRow ('D') body into a slice of column
// values. A nil entry means SQL NULL; a non-nil, zero-length entry
// means an empty string/bytea. The returned slices alias body.
func DecodeDataRow(body []byte) ([][]byte, error) {
	n, rest, err := readInt16(body)
	if err != nil {
		return nil, fmt.Errorf("pgwire: DataRow count: %w", err)
	}
	if n < 0 {
		return nil, errUnknownFieldCount
	}
	values := make([][]byte, 0, n)
	for i := int16(0); i < n; i++ {
		length, r2, err := readInt32(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: DataRow[%d] length: %w", i, err)
		}
		rest = r2
		if length == -1 {
			values = append(values, nil)
			continue
		}
		if length < 0 || int(length) > len(rest) {
			return nil, fmt.Errorf("pgwire: DataRow[%d]: %w", i, errTruncatedField)
		}
		values = append(values, rest[:length])
		rest = rest[length:]
	}
	return values, nil
}

// CommandComplete is the decoded payload of a CommandComplete ('C')
// message, e.g. "SELECT 3" or "INSERT 0 1".
type CommandComplete struct {
	Tag string
}

func DecodeCommandComplete(body []byte) (CommandComplete, error) {
	tag, _, err := readCString(body)
	if err != nil {
		return CommandComplete{}, fmt.Errorf("pgwire: CommandComplete: %w", err)
	}
	return CommandComplete{Tag: tag}, nil
}

// ErrorField is one code/value pair from an ErrorResponse or
// NoticeResponse body (field codes per the protocol: 'S' severity,
// 'C' SQLSTATE code, 'M' message, and so on).
type ErrorField struct {
	Code  byte
	Value string
}

// DecodeErrorFields decodes the repeated field list shared by
// ErrorResponse ('E') and NoticeResponse ('N') bodies, terminated by a
// zero byte.
func DecodeErrorFields(body []byte) ([]ErrorField, error) {
	var fields []ErrorField
	for len(body) > 0 && body[0] != 0 {
		code := body[0]
		value, rest, err := readCString(body[1:])
		if err != nil {
			return nil, fmt.Errorf("pgwire: error field %q: %w", code, err)
		}
		fields = append(fields, ErrorField{Code: code, Value: value})
		body = rest
	}
	return fields, nil
}

// DecodeParameterDescription decodes a ParameterDescription ('t') body
// into its parameter type OID list.
func DecodeParameterDescription(body []byte) ([]uint32, error) {
	n, rest, err := readInt16(body)
	if err != nil {
		return nil, fmt.Errorf("pgwire: ParameterDescription count: %w", err)
	}
	if n < 0 {
		return nil, errUnknownFieldCount
	}
	oids := make([]uint32, 0, n)
	for i := int16(0); i < n; i++ {
		oid, r2, err := readUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("pgwire: ParameterDescription[%d]: %w", i, err)
		}
		oids = append(oids, oid)
		rest = r2
	}
	return oids, nil
}

// Notification is the decoded payload of a NotificationResponse ('A')
// message delivered for a LISTEN channel.
type Notification struct {
	ProcessID int32
	Channel   string
	Payload   string
}

func DecodeNotificationResponse(body []byte) (Notification, error) {
	pid, rest, err := readInt32(body)
	if err != nil {
		return Notification{}, fmt.Errorf("pgwire: NotificationResponse pid: %w", err)
	}
	channel, rest, err := readCString(rest)
	if err != nil {
		return Notification{}, fmt.Errorf("pgwire: NotificationResponse channel: %w", err)
	}
	payload, _, err := readCString(rest)
	if err != nil {
		return Notification{}, fmt.Errorf("pgwire: NotificationResponse payload: %w", err)
	}
	return Notification{ProcessID: pid, Channel: channel, Payload: payload}, nil
}

// DecodeCopyResponse decodes the shared body shape of CopyInResponse
// ('G') and CopyOutResponse ('H'): an overall format code followed by a
// per-column format code list.
func DecodeCopyResponse(body []byte) (overallFormat int8, columnFormats []int16, err error) {
	if len(body) < 1 {
		return 0, nil, errTruncatedField
	}
	overallFormat = int8(body[0])
	rest := body[1:]
	n, rest, err := readInt16(rest)
	if err != nil {
		return 0, nil, fmt.Errorf("pgwire: copy response count: %w", err)
	}
	if n < 0 {
		return 0, nil, errUnknownFieldCount
	}
	columnFormats = make([]int16, 0, n)
	for i := int16(0); i < n; i++ {
		format, r2, err := readInt16(rest)
		if err != nil {
			return 0, nil, fmt.Errorf("pgwire: copy response column[%d]: %w", i, err)
		}
		columnFormats = append(columnFormats, format)
		rest = r2
	}
	return overallFormat, columnFormats, nil
}

// DecodeNegotiateProtocolVersion decodes a NegotiateProtocolVersion
// ('v') body: the newest minor protocol version the server supports,
// followed by the names of any requested startup parameters it did not
// recognize.
func DecodeNegotiateProtocolVersion(body []byte) (newestMinor int32, unrecognized []string, err error) {
	newestMinor, rest, err := readInt32(body)
	if err != nil {
		return 0, nil, fmt.Errorf("pgwire: NegotiateProtocolVersion version: %w", err)
	}
	n, rest, err := readInt32(rest)
	if err != nil {
		return 0, nil, fmt.Errorf("pgwire: NegotiateProtocolVersion count: %w", err)
	}
	if n < 0 {
		return 0, nil, errUnknownFieldCount
	}
	unrecognized = make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		name, r2, err := readCString(rest)
		if err != nil {
			return 0, nil, fmt.Errorf("pgwire: NegotiateProtocolVersion[%d]: %w", i, err)
		}
		unrecognized = append(unrecognized, name)
		rest = r2
	}
	return newestMinor, unrecognized, nil
}
