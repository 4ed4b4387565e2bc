package pgconn

import (
	"bytes"
	"fmt"

	"github.com/mevdschee/chopin/pgwire"
)

// QuerySimple runs sql over the Simple Query flow ('Q'), which does not
// support bind parameters but does support multiple ';'-separated
// statements in one round trip. Only the last result set's rows are
// returned; intermediate CommandComplete tags are discarded, matching
// libpq's own PQexec behavior for multi-statement strings.
func (c *Conn) QuerySimple(sql string) (*Rows, error) {
	if err := c.writeMessage(pgwire.Query(nil, sql)); err != nil {
		return nil, fmt.Errorf("pgconn: send Query: %w", err)
	}

	result := &Rows{}
	var pending *Rows

	err := c.readUntilReady(func(tag byte, body []byte) error {
		switch tag {
		case pgwire.TagRowDescription:
			cols, err := pgwire.DecodeRowDescription(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			pending = &Rows{cols: cols}
		case pgwire.TagDataRow:
			if pending == nil {
				return &ProtocolError{Detail: "DataRow without a preceding RowDescription"}
			}
			values, err := pgwire.DecodeDataRow(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			for i, v := range values {
				values[i] = bytes.Clone(v)
			}
			pending.rows = append(pending.rows, values)
		case pgwire.TagCommandComplete:
			cc, err := pgwire.DecodeCommandComplete(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			if pending == nil {
				pending = &Rows{}
			}
			pending.tag = cc.Tag
			result = pending
			pending = nil
		case pgwire.TagEmptyQueryResponse:
			result = &Rows{}
		case pgwire.TagErrorResponse, pgwire.TagNoticeResponse:
			return c.handleErrorOrNotice(tag, body)
		case pgwire.TagParameterStatus:
			ps, err := pgwire.DecodeParameterStatus(body)
			if err == nil {
				c.params[ps.Name] = ps.Value
			}
		default:
			// CopyInResponse/CopyOutResponse and others fall outside
			// QuerySimple's contract; callers that need COPY use
			// CopyIn explicitly.
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Exec runs sql with bound parameters over the Extended Query flow and
// discards any result rows, returning the command tag (e.g. "UPDATE
// 3"). It is a thin convenience over Query for statements that do not
// return rows.
func (c *Conn) Exec(sql string, params ...BindParamValue) (string, error) {
	rows, err := c.Query(sql, params...)
	if err != nil {
		return "", err
	}
	return rows.CommandTag(), nil
}

// BindParamValue is a parameter value for the Extended Query flow. Use
// Null() for a SQL NULL; any other value is sent as-is as text-format
// wire bytes (use strconv/EncodeBytea to format non-string Go values).
type BindParamValue struct {
	text []byte
	null bool
}

// Text wraps a plain string as a text-format bind parameter.
func Text(s string) BindParamValue { return BindParamValue{text: []byte(s)} }

// Raw wraps pre-encoded text-format wire bytes as a bind parameter
// (e.g. the output of EncodeBytea, or strconv.Itoa for an integer).
func Raw(b []byte) BindParamValue { return BindParamValue{text: b} }

// Null returns a bind parameter representing SQL NULL.
func Null() BindParamValue { return BindParamValue{null: true} }

// Query runs sql with bound parameters over the Extended Query flow:
// Parse (unless already cached) → Bind → Describe statement (only
// alongside that Parse) → Execute → Sync, returning the full result set.
//
// Statements are cached per spec.md §4.12/§3: the first time a given
// SQL text is seen on this connection it is Parse'd under a new
// server-side name ("s0", "s1", …); subsequent calls with the same text
// reuse that name and skip re-Parsing.
func (c *Conn) Query(sql string, params ...BindParamValue) (*Rows, error) {
	st, cached := c.stmts.lookup(sql)

	var buf []byte
	if !cached {
		name := c.stmts.reserveName()
		buf = pgwire.Parse(buf, name, sql, nil)
		st = statement{name: name}
	}

	bindParams := make([]pgwire.BindParam, len(params))
	for i, p := range params {
		if p.null {
			bindParams[i] = pgwire.BindParam{Value: nil}
		} else {
			bindParams[i] = pgwire.BindParam{Value: p.text}
		}
	}

	buf = pgwire.Bind(buf, "", st.name, bindParams, false)
	if !cached {
		buf = pgwire.Describe(buf, pgwire.DescribeStatement, st.name)
	}
	buf = pgwire.Execute(buf, "", 0)
	buf = pgwire.Sync(buf)

	if err := c.writeMessage(buf); err != nil {
		return nil, fmt.Errorf("pgconn: send extended query: %w", err)
	}

	result := &Rows{}
	var paramOIDs []uint32
	var cols []pgwire.ColumnDescriptor
	if cached {
		// A cache hit skips Describe (line 131), so no RowDescription
		// comes back on the wire; seed the columns we recorded the
		// first time this statement was parsed.
		cols = st.columns
		result.cols = st.columns
	}

	err := c.readUntilReady(func(tag byte, body []byte) error {
		switch tag {
		case pgwire.TagParseComplete, pgwire.TagBindComplete, pgwire.TagCloseComplete,
			pgwire.TagNoData:
			// acknowledgements; nothing to record
		case pgwire.TagParameterDescription:
			oids, err := pgwire.DecodeParameterDescription(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			paramOIDs = oids
		case pgwire.TagRowDescription:
			decoded, err := pgwire.DecodeRowDescription(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			cols = decoded
			result.cols = cols
		case pgwire.TagDataRow:
			values, err := pgwire.DecodeDataRow(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			for i, v := range values {
				values[i] = bytes.Clone(v)
			}
			result.rows = append(result.rows, values)
		case pgwire.TagCommandComplete:
			cc, err := pgwire.DecodeCommandComplete(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			result.tag = cc.Tag
		case pgwire.TagEmptyQueryResponse:
			// nothing to add
		case pgwire.TagErrorResponse, pgwire.TagNoticeResponse:
			return c.handleErrorOrNotice(tag, body)
		case pgwire.TagParameterStatus:
			ps, err := pgwire.DecodeParameterStatus(body)
			if err == nil {
				c.params[ps.Name] = ps.Value
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !cached {
		st.paramOIDs = paramOIDs
		st.columns = cols
		c.stmts.store(sql, st)
	}
	return result, nil
}

// QueryRow runs Query and returns its first row, or ErrNoRows if the
// result set was empty.
func (c *Conn) QueryRow(sql string, params ...BindParamValue) (*Row, error) {
	rows, err := c.Query(sql, params...)
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, ErrNoRows
	}
	return rows.Row(), nil
}
