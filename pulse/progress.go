// Package pulse holds the background job infrastructure: the job queue and
// worker pool (pulse/async), the report driver (pulse/report) and the inbox
// intake (pulse/intake).
package pulse

// ProgressEmitter defines the domain-agnostic interface for emitting progress updates
// during long-running operations. Implementations persist progress on a job record
// (async.JobProgressEmitter) or print it to a terminal (display.TerminalEmitter).
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress announces that count more units finished, with optional metadata.
	// Report generation passes one finished section at a time with
	// MetaSection, MetaOrder and MetaOutcome set.
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces successful completion with summary
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)

	// EmitInfo emits general informational message
	EmitInfo(message string)
}

// Metadata keys used by report generation progress
const (
	MetaSection = "section"
	MetaOrder   = "order"
	MetaOutcome = "outcome"
	MetaKey     = "key"
	MetaTotal   = "total"
)

// NopEmitter discards all progress
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                   {}
func (NopEmitter) EmitProgress(int, map[string]interface{})   {}
func (NopEmitter) EmitComplete(map[string]interface{})        {}
func (NopEmitter) EmitError(string, error)                    {}
func (NopEmitter) EmitInfo(string)                            {}
