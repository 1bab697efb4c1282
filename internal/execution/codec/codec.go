// Package codec frames envelopes as newline-delimited JSON. Encoding never
// embeds a newline inside a frame; decoding tolerates chunk boundaries at any
// byte offset and skips lines that fail to decode.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/models"
)

var (
	ErrUnknownEnvelope = errors.New("unknown envelope type")

	// ErrUnsupportedPayload is reported for responses whose data is not
	// a JSON object.
	ErrUnsupportedPayload = errors.New("response data must be a JSON object")
)

type Params struct {
	// OnError is invoked for every line that could not be decoded. Optional.
	OnError func(*ProtocolDecodeError)

	Log *zap.Logger
}

// Codec holds the partial-line buffer for one worker output stream. Feed and
// Reset must not be called concurrently.
type Codec struct {
	buf []byte

	// scanned is the prefix of buf known to hold no newline
	scanned int

	onError func(*ProtocolDecodeError)
	log     *zap.Logger

	decodeErrors atomic.Int64
}

func New(params Params) *Codec {
	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Codec{
		onError: params.OnError,
		log:     log.Named("codec"),
	}
}

// Encode serializes an envelope into a single frame terminated by '\n'.
func Encode(env models.Envelope) ([]byte, error) {
	switch e := env.(type) {
	case models.Request:
		if e.Data == nil {
			e.Data = map[string]any{}
		}
		env = e
	case *models.Request:
		return Encode(*e)
	case models.Event:
		e.Type = string(models.KindEvent)
		env = e
	case *models.Event:
		return Encode(*e)
	case *models.Response:
		return Encode(*e)
	case models.Response:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEnvelope, env)
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// json.Encoder terminates the value with '\n' and escapes any newline
	// inside strings, so the frame is exactly one line.
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind(), err)
	}

	return buf.Bytes(), nil
}

// Encode is the method form of the package level Encode.
func (c *Codec) Encode(env models.Envelope) ([]byte, error) {
	return Encode(env)
}

// Feed appends a chunk of stream output and returns every envelope completed
// by it, in stream order. Bytes after the last newline stay buffered.
func (c *Codec) Feed(chunk []byte) []models.Envelope {
	c.buf = append(c.buf, chunk...)

	var out []models.Envelope

	consumed := 0
	for {
		idx := bytes.IndexByte(c.buf[c.scanned:], '\n')
		if idx < 0 {
			c.scanned = len(c.buf)
			break
		}

		end := c.scanned + idx
		line := bytes.TrimSpace(c.buf[consumed:end])
		consumed = end + 1
		c.scanned = consumed

		if len(line) == 0 {
			continue
		}

		env, err := Decode(line)
		if err != nil {
			c.reportError(line, err)
			continue
		}

		out = append(out, env)
	}

	// compact once lines were consumed so the backing array doesn't grow
	// with stream length
	if consumed > 0 {
		rest := c.buf[consumed:]
		c.buf = append(make([]byte, 0, len(rest)), rest...)
		c.scanned -= consumed
	}

	return out
}

// Reset discards any buffered partial line.
func (c *Codec) Reset() {
	c.buf = nil
	c.scanned = 0
}

// Buffered returns the number of bytes waiting for a terminating newline.
func (c *Codec) Buffered() int {
	return len(c.buf)
}

// DecodeErrors returns the number of lines rejected since creation.
func (c *Codec) DecodeErrors() int64 {
	return c.decodeErrors.Load()
}

func (c *Codec) reportError(line []byte, err error) {
	c.decodeErrors.Add(1)

	decodeErr := newDecodeError(line, err)
	c.log.Warn("failed to decode worker output", zap.Error(decodeErr))

	if c.onError != nil {
		c.onError(decodeErr)
	}
}

// discriminator carries the fields needed to classify an envelope.
type discriminator struct {
	Type    string `json:"type"`
	Success *bool  `json:"success"`
}

// Decode parses one complete line (without its terminator) into an envelope.
func Decode(line []byte) (models.Envelope, error) {
	if err := validate(line); err != nil {
		return nil, err
	}

	var d discriminator
	if err := json.Unmarshal(line, &d); err != nil {
		return nil, err
	}

	switch {
	case d.Type == string(models.KindEvent):
		var evt models.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, err
		}
		return evt, nil

	case d.Success != nil:
		return decodeResponse(line)

	default:
		var req models.Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, err
		}
		return req, nil
	}
}

// rawResponse defers decoding of the payload, which may be any JSON value.
type rawResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
}

// decodeResponse decodes a response. A payload that is not a JSON object
// turns the response into a failure, so the pending call still resolves.
func decodeResponse(line []byte) (models.Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(line, &raw); err != nil {
		return models.Response{}, err
	}

	res := models.Response{
		CorrelationID: raw.CorrelationID,
		Success:       raw.Success,
		Error:         raw.Error,
	}

	payload := bytes.TrimSpace(raw.Data)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return res, nil
	}

	// a failed response keeps the worker's error
	if !raw.Success && payload[0] != '{' {
		return res, nil
	}

	if payload[0] != '{' {
		res.Success = false
		res.Error = fmt.Sprintf("%s: %s", ErrUnsupportedPayload, payloadKind(payload[0]))
		return res, nil
	}

	if err := json.Unmarshal(payload, &res.Data); err != nil {
		return models.Response{}, err
	}

	return res, nil
}

func payloadKind(first byte) string {
	switch first {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
