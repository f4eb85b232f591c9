package backend

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event. Event is empty for unnamed events.
type sseEvent struct {
	Event string
	Data  string
}

// sseScanner reads server-sent events off a response body. Multi-line data
// fields are joined with newlines per the SSE framing rules.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	return &sseScanner{scanner: sc}
}

// Next returns the next complete event, or io.EOF at end of stream.
func (s *sseScanner) Next() (sseEvent, error) {
	var evt sseEvent
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) > 0 || evt.Event != "" {
				evt.Data = strings.Join(data, "\n")
				return evt, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			evt.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		}
	}
	if err := s.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if len(data) > 0 || evt.Event != "" {
		evt.Data = strings.Join(data, "\n")
		return evt, nil
	}
	return sseEvent{}, io.EOF
}
