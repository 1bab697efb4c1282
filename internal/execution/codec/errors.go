package codec

import "fmt"

// maxLineExcerpt bounds how much of an offending line is kept for diagnostics.
const maxLineExcerpt = 256

// ProtocolDecodeError reports a line of worker output that could not be
// decoded into an envelope. It is never fatal to stream processing.
type ProtocolDecodeError struct {
	// Line is the offending line, truncated to a short excerpt
	Line string

	// Err is the underlying parse or validation error
	Err error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("protocol decode error: %v (line: %q)", e.Err, e.Line)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(line []byte, err error) *ProtocolDecodeError {
	excerpt := line
	if len(excerpt) > maxLineExcerpt {
		excerpt = excerpt[:maxLineExcerpt]
	}

	return &ProtocolDecodeError{
		Line: string(excerpt),
		Err:  err,
	}
}
