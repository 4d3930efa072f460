package ingest

import (
	"bufio"
	"strings"
)

// rawEvent is one parsed `text/event-stream` frame: an optional `id:`
// field and the concatenated `data:` payload.
type rawEvent struct {
	ID   *string
	Data string
}

// sseReader incrementally parses an SSE byte stream into rawEvents,
// field by field, the way the example corpus's SSE transports do
// (line-oriented scan, blank line terminates a frame).
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r *bufio.Reader) *sseReader {
	return &sseReader{r: r}
}

// next blocks until a full event frame is available, the stream ends, or
// the underlying reader errors.
func (s *sseReader) next() (rawEvent, error) {
	var id *string
	var data strings.Builder
	haveData := false

	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if haveData {
				return rawEvent{ID: id, Data: data.String()}, nil
			}
			if err != nil {
				return rawEvent{}, err
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "data:"):
			if haveData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			haveData = true
		case strings.HasPrefix(line, "id:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			id = &v
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive line, ignored
		}

		if err != nil {
			if haveData {
				return rawEvent{ID: id, Data: data.String()}, nil
			}
			return rawEvent{}, err
		}
	}
}
