package pipeline

import (
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// Reporter receives one Report per consumed iteration.
type Reporter interface {
	Report(r Report) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(r Report) error

func (f ReporterFunc) Report(r Report) error { return f(r) }

// TextReporter writes "Received iteration <i>, first byte: <c>" lines.
type TextReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextReporter creates a text reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (t *TextReporter) Report(r Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := fmt.Fprintf(t.w, "Received iteration %d, first byte: %c\n", r.Iteration, r.FirstByte)
	return err
}

// JSONReporter writes one JSON object per line.
type JSONReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONReporter creates a JSON lines reporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{w: w}
}

type jsonReport struct {
	Iteration int    `json:"iteration"`
	Slot      int    `json:"slot"`
	FirstByte string `json:"first_byte"`
	Length    int    `json:"length"`
	Uniform   bool   `json:"uniform"`
	Valid     bool   `json:"valid"`
}

func (j *JSONReporter) Report(r Report) error {
	data, err := sonic.Marshal(jsonReport{
		Iteration: r.Iteration,
		Slot:      r.Slot,
		FirstByte: string(rune(r.FirstByte)),
		Length:    r.Length,
		Uniform:   r.Uniform,
		Valid:     r.Valid,
	})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(append(data, '\n'))
	return err
}

// NewReporter returns the reporter for a format name: "text" or "json".
func NewReporter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "", "text":
		return NewTextReporter(w), nil
	case "json":
		return NewJSONReporter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
