package worker

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// maxStderrLine bounds a buffered partial stderr line before it is
// logged regardless of a missing newline.
const maxStderrLine = 4096

// stderrSink logs worker stderr line by line and retains its tail.
type stderrSink struct {
	mu      sync.Mutex
	tail    []byte
	limit   int
	partial []byte

	log *zap.Logger
}

func newStderrSink(limit int, log *zap.Logger) *stderrSink {
	return &stderrSink{
		limit: limit,
		log:   log,
	}
}

func (s *stderrSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, b...)
	if over := len(s.tail) - s.limit; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}

	s.partial = append(s.partial, b...)
	for {
		idx := bytes.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}

		s.emit(s.partial[:idx])
		s.partial = s.partial[idx+1:]
	}

	if len(s.partial) > maxStderrLine {
		s.emit(s.partial)
		s.partial = nil
	}

	s.partial = append([]byte(nil), s.partial...)

	return len(b), nil
}

func (s *stderrSink) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}

	s.log.Warn(string(line))
}

// Flush logs any pending partial line.
func (s *stderrSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emit(s.partial)
	s.partial = nil
}

func (s *stderrSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return string(s.tail)
}
