package pgconn

import (
	"fmt"
	"io"

	"github.com/mevdschee/chopin/pgwire"
)

// copyChunkSize is the read buffer size for streaming a COPY IN source;
// it does not need to be large since it just bounds one CopyData
// message's payload.
const copyChunkSize = 64 * 1024

// CopyIn runs a "COPY ... FROM STDIN" statement, streaming src as the
// COPY payload. sql must be a COPY FROM STDIN statement; the driver
// does not construct it for the caller since column lists and formats
// vary too much to usefully wrap.
func (c *Conn) CopyIn(sql string, src io.Reader) (string, error) {
	if err := c.writeMessage(pgwire.Query(nil, sql)); err != nil {
		return "", fmt.Errorf("pgconn: send COPY Query: %w", err)
	}

	tag, body, err := c.readMessage()
	if err != nil {
		return "", fmt.Errorf("pgconn: read COPY response: %w", err)
	}
	switch tag {
	case pgwire.TagCopyInResponse:
		// proceed below
	case pgwire.TagErrorResponse:
		fields, _ := pgwire.DecodeErrorFields(body)
		serverErr := serverErrorFromFields(fields)
		if drainErr := c.readUntilReady(func(byte, []byte) error { return nil }); drainErr != nil {
			return "", drainErr
		}
		return "", serverErr
	default:
		return "", &ProtocolError{Detail: fmt.Sprintf("expected CopyInResponse, got %q", tag)}
	}

	chunk := make([]byte, copyChunkSize)
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			if err := c.writeMessage(pgwire.CopyData(nil, chunk[:n])); err != nil {
				return "", fmt.Errorf("pgconn: send CopyData: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = c.writeMessage(pgwire.CopyFail(nil, readErr.Error()))
			_ = c.readUntilReady(func(byte, []byte) error { return nil })
			return "", fmt.Errorf("pgconn: read COPY source: %w", readErr)
		}
	}
	if err := c.writeMessage(pgwire.CopyDone(nil)); err != nil {
		return "", fmt.Errorf("pgconn: send CopyDone: %w", err)
	}

	var commandTag string
	err = c.readUntilReady(func(tag byte, body []byte) error {
		switch tag {
		case pgwire.TagCommandComplete:
			cc, err := pgwire.DecodeCommandComplete(body)
			if err != nil {
				return &ProtocolError{Detail: err.Error()}
			}
			commandTag = cc.Tag
		case pgwire.TagErrorResponse, pgwire.TagNoticeResponse:
			return c.handleErrorOrNotice(tag, body)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return commandTag, nil
}
