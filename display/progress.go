package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/pulse"
)

// TerminalEmitter prints report progress for `compliq report run`
type TerminalEmitter struct {
	out       io.Writer
	verbosity int
}

// NewTerminalEmitter creates an emitter writing to out (stdout when nil)
func NewTerminalEmitter(out io.Writer, verbosity int) *TerminalEmitter {
	if out == nil {
		out = os.Stdout
	}
	return &TerminalEmitter{out: out, verbosity: verbosity}
}

// EmitStage prints a stage announcement
func (e *TerminalEmitter) EmitStage(stage string, message string) {
	pterm.Fprintln(e.out, fmt.Sprintf("🔄 %s: %s", pterm.LightCyan(stage), message))
}

// EmitProgress prints one finished section
func (e *TerminalEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	section, ok := metadata[pulse.MetaSection].(string)
	if !ok {
		pterm.Fprintln(e.out, fmt.Sprintf("✅ Processed %s items", pterm.Green(count)))
		return
	}
	outcome, _ := metadata[pulse.MetaOutcome].(string)
	mark := "✅"
	if outcome != string(compliance.OutcomeCompliant) {
		mark = "⚠️"
	}
	prefix := ""
	if order, ok := metadata[pulse.MetaOrder].(int); ok {
		prefix = fmt.Sprintf("%d", order)
		if total, ok := metadata[pulse.MetaTotal].(int); ok {
			prefix += fmt.Sprintf("/%d", total)
		}
		prefix += " "
	}
	pterm.Fprintln(e.out, fmt.Sprintf("%s %s%s %s", mark, prefix, pterm.Bold.Sprint(section), pterm.Gray("("+outcome+")")))
	if e.verbosity >= 1 {
		if key, ok := metadata[pulse.MetaKey].(string); ok {
			pterm.Fprintln(e.out, fmt.Sprintf("   %s %s", pterm.Gray("→"), key))
		}
	}
}

// EmitComplete prints the completion summary
func (e *TerminalEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Success.WithWriter(e.out).Println("Report complete!")
	if location, ok := summary["location"]; ok {
		pterm.Fprintln(e.out, fmt.Sprintf("  %s %v", pterm.Yellow("Report:"), location))
	}
	if e.verbosity >= 1 {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			if k != "location" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			pterm.Fprintln(e.out, fmt.Sprintf("  %s: %v", k, summary[k]))
		}
	}
}

// EmitError prints an error
func (e *TerminalEmitter) EmitError(stage string, err error) {
	pterm.Error.WithWriter(e.out).Printfln("Error in %s: %v", stage, err)
}

// EmitInfo prints an informational message at -v and above
func (e *TerminalEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.WithWriter(e.out).Println(message)
	}
}

// ProgressEvent is one line of JSONEmitter output
type ProgressEvent struct {
	Type      string                 `json:"type"` // stage, progress, complete, error, info
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// JSONEmitter writes progress as JSON lines, for `report run --json`
type JSONEmitter struct {
	encoder *json.Encoder
	now     func() time.Time
}

// NewJSONEmitter creates an emitter writing to out (stdout when nil)
func NewJSONEmitter(out io.Writer) *JSONEmitter {
	if out == nil {
		out = os.Stdout
	}
	return &JSONEmitter{encoder: json.NewEncoder(out), now: time.Now}
}

func (e *JSONEmitter) emit(kind string, data map[string]interface{}) {
	_ = e.encoder.Encode(ProgressEvent{Type: kind, Timestamp: e.now(), Data: data})
}

// EmitStage emits a stage event
func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{"stage": stage, "message": message})
}

// EmitProgress emits a progress event with the metadata merged in
func (e *JSONEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	data := map[string]interface{}{"count": count}
	for k, v := range metadata {
		data[k] = v
	}
	e.emit("progress", data)
}

// EmitComplete emits a completion event
func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

// EmitError emits an error event
func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{"stage": stage, "error": err.Error()})
}

// EmitInfo emits an info event
func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{"message": message})
}
