// Package reporter is the engine's ambient progress/logging surface: a
// small interface with text, JSON-lines, and no-op implementations, rather
// than a third-party structured-logging facade. The pipeline and every
// boot-manager variant report through this interface so a single run can
// be displayed to an operator's terminal or consumed as machine-readable
// JSON lines by an orchestrator, without the core logic knowing which.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// EventType identifies the shape of one JSON-lines Event.
type EventType string

const (
	EventTypeStep     EventType = "step"
	EventTypeProgress EventType = "progress"
	EventTypeMessage  EventType = "message"
	EventTypeWarning  EventType = "warning"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
)

// Event is a single line of JSON Lines output for streaming progress.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  string    `json:"timestamp"`
	Step       int       `json:"step,omitzero"`
	TotalSteps int       `json:"total_steps,omitzero"`
	StepName   string    `json:"step_name,omitempty"`
	Message    string    `json:"message,omitempty"`
	Details    any       `json:"details,omitempty"`
}

// Reporter is the interface every pipeline step and boot-manager variant
// reports progress and errors through. There are three implementations:
// TextReporter (human-readable), JSONReporter (machine-readable JSON
// Lines), and NoopReporter (discards everything, for tests).
type Reporter interface {
	Step(step, total int, name string)
	Message(format string, args ...any)
	Warning(format string, args ...any)
	Error(err error, message string)
	Complete(message string, details any)
	IsJSON() bool
}

// ---------------------------------------------------------------------------
// TextReporter
// ---------------------------------------------------------------------------

var (
	stepStyle    = lipgloss.NewStyle().Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// TextReporter writes human-readable progress text to an io.Writer.
type TextReporter struct {
	w        io.Writer
	stepped  bool
	colorful bool
}

// NewTextReporter returns a TextReporter that writes to w, detecting w's
// color profile through termenv so output piped to a file or a dumb
// terminal drops lipgloss styling instead of emitting raw escape codes.
func NewTextReporter(w io.Writer) *TextReporter {
	profile := termenv.NewOutput(w).ColorProfile()
	return &TextReporter{w: w, colorful: profile != termenv.Ascii}
}

func (r *TextReporter) render(style lipgloss.Style, s string) string {
	if !r.colorful {
		return s
	}
	return style.Render(s)
}

func (r *TextReporter) Step(step, total int, name string) {
	if r.stepped {
		_, _ = fmt.Fprintln(r.w)
	}
	r.stepped = true
	_, _ = fmt.Fprintln(r.w, r.render(stepStyle, fmt.Sprintf("Step %d/%d: %s", step, total, name)))
}

func (r *TextReporter) Message(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, "  %s\n", fmt.Sprintf(format, args...))
}

func (r *TextReporter) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(r.w, r.render(warningStyle, "Warning: "+fmt.Sprintf(format, args...)))
}

func (r *TextReporter) Error(err error, message string) {
	_, _ = fmt.Fprintln(r.w, r.render(errorStyle, fmt.Sprintf("Error: %s: %v", message, err)))
}

func (r *TextReporter) Complete(message string, _ any) {
	_, _ = fmt.Fprintln(r.w)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
	_, _ = fmt.Fprintln(r.w, message)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
}

func (r *TextReporter) IsJSON() bool { return false }

// ---------------------------------------------------------------------------
// JSONReporter
// ---------------------------------------------------------------------------

// JSONReporter writes JSON Lines (one Event per line) to an io.Writer. All
// writes are serialized with a mutex for thread safety.
type JSONReporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONReporter returns a JSONReporter that writes to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{encoder: json.NewEncoder(w)}
}

func (r *JSONReporter) emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = r.encoder.Encode(event)
}

func (r *JSONReporter) Step(step, total int, name string) {
	r.emit(Event{Type: EventTypeStep, Step: step, TotalSteps: total, StepName: name})
}

func (r *JSONReporter) Message(format string, args ...any) {
	r.emit(Event{Type: EventTypeMessage, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Warning(format string, args ...any) {
	r.emit(Event{Type: EventTypeWarning, Message: fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Error(err error, message string) {
	r.emit(Event{Type: EventTypeError, Message: message, Details: map[string]string{"error": err.Error()}})
}

func (r *JSONReporter) Complete(message string, details any) {
	r.emit(Event{Type: EventTypeComplete, Message: message, Details: details})
}

func (r *JSONReporter) IsJSON() bool { return true }

// ---------------------------------------------------------------------------
// NoopReporter
// ---------------------------------------------------------------------------

// NoopReporter silently discards all output. Used by tests and by callers
// that only want the return value of a pipeline run.
type NoopReporter struct{}

func (NoopReporter) Step(int, int, string)  {}
func (NoopReporter) Message(string, ...any) {}
func (NoopReporter) Warning(string, ...any) {}
func (NoopReporter) Error(error, string)    {}
func (NoopReporter) Complete(string, any)   {}
func (NoopReporter) IsJSON() bool           { return false }
