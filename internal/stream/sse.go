package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/leadpilot/api/internal/model"
)

// WriteEvent writes one progress event as a server-sent-event frame:
// a data: line with the JSON-encoded event, terminated by a blank line.
func WriteEvent(w io.Writer, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// Decoder reads progress events back out of an SSE stream. A malformed frame
// is skipped rather than aborting the stream, so one corrupt frame never
// costs a consumer the rest of the run.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next well-formed event, or io.EOF when the stream ends.
func (d *Decoder) Next() (model.ProgressEvent, error) {
	for {
		data, err := d.nextFrame()
		if err != nil {
			return model.ProgressEvent{}, err
		}
		if data == "" {
			continue // frame without a data line
		}
		var ev model.ProgressEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // corrupt frame, skip
		}
		return ev, nil
	}
}

// nextFrame collects lines up to the next blank-line terminator and returns
// the concatenated data payload.
func (d *Decoder) nextFrame() (string, error) {
	var data []string
	seen := false
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if !seen {
				continue // leading blank line between frames
			}
			return strings.Join(data, "\n"), nil
		}
		seen = true
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
		// Other SSE fields (event:, id:, comments) are ignored.
	}
	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	if seen && len(data) > 0 {
		// Stream ended without a final blank line; take what we have.
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}
