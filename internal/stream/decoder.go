package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dingjianrui/code-agent/internal/agent"
	"github.com/dingjianrui/code-agent/internal/session"
)

// Decoder parses SSE frames back into session events. Used by tests and by
// clients that consume the stream programmatically.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder over r
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next event frame, skipping comments and keep-alives.
// Returns io.EOF when the stream ends.
func (d *Decoder) Next() (session.Event, error) {
	var (
		eventName string
		id        string
		data      []string
		sawField  bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if !sawField {
				continue // blank between comments
			}
			return d.assemble(eventName, id, data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = value
			sawField = true
		case "id":
			id = value
			sawField = true
		case "data":
			data = append(data, value)
			sawField = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		return session.Event{}, err
	}
	if sawField {
		return d.assemble(eventName, id, data)
	}
	return session.Event{}, io.EOF
}

func (d *Decoder) assemble(eventName, id string, data []string) (session.Event, error) {
	seq, err := strconv.Atoi(id)
	if err != nil {
		return session.Event{}, fmt.Errorf("frame %q: bad id %q", eventName, id)
	}

	var step agent.StepEvent
	payload := strings.Join(data, "\n")
	if err := json.Unmarshal([]byte(payload), &step); err != nil {
		return session.Event{}, fmt.Errorf("frame %q id %d: %w", eventName, seq, err)
	}
	if string(step.Type) != eventName {
		return session.Event{}, fmt.Errorf("frame id %d: event name %q does not match payload type %q", seq, eventName, step.Type)
	}

	return session.Event{Seq: seq, Step: step}, nil
}
