package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/artifact"
	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse"
)

// Stage names reported to progress emitters
const (
	StageValidate = "validate"
	StageSections = "sections"
	StageStore    = "store"
)

// Result is a generated and stored report
type Result struct {
	Report   *compliance.ComplianceReport
	Key      string // Artifact key of the final Markdown
	Location string // Human-readable location of Key
}

// Generator produces a report for one job id and stores its artifacts
type Generator struct {
	invoker   agent.Invoker
	store     artifact.Store
	maxTrials int
	logger    *zap.SugaredLogger
}

// NewGenerator creates a generator. maxTrials < 0 is treated as 0.
func NewGenerator(invoker agent.Invoker, store artifact.Store, maxTrials int, log *zap.SugaredLogger) *Generator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Generator{invoker: invoker, store: store, maxTrials: maxTrials, logger: log}
}

// Generate validates params, runs every section and writes
// {jobID}/report/{section}.md after each section and
// {jobID}/report/compliance_report.md at the end. No agent is called when
// params are invalid. A failed section leaves no final report.
func (g *Generator) Generate(ctx context.Context, jobID string, params JobParams, progress pulse.ProgressEmitter) (*Result, error) {
	if progress == nil {
		progress = pulse.NopEmitter{}
	}
	ctx = logger.WithJobID(ctx, jobID)
	log := logger.FromContext(ctx, g.logger)

	progress.EmitStage(StageValidate, "Validating job parameters")
	if err := params.Validate(); err != nil {
		progress.EmitError(StageValidate, err)
		return nil, err
	}

	sections := len(params.Template.Sections)
	progress.EmitStage(StageSections, "Generating report sections")

	observer := func(ctx context.Context, result compliance.SectionResult) error {
		key := artifact.SectionKey(jobID, result.Name)
		if err := g.store.Put(ctx, key, []byte(result.Markdown)); err != nil {
			return errors.WithDetailf(errors.Wrap(err, "failed to store section draft"), "Key: %s", key)
		}
		progress.EmitProgress(1, map[string]interface{}{
			pulse.MetaSection: result.Name,
			pulse.MetaOrder:   result.Order,
			pulse.MetaOutcome: string(result.Outcome),
			pulse.MetaKey:     key,
			pulse.MetaTotal:   sections,
		})
		return nil
	}

	start := time.Now()
	asm := compliance.NewJobAssembler(g.invoker, params.Agents(), params.WorkloadContext(), g.maxTrials, observer, log)
	rep, err := asm.Assemble(ctx, params.Template)
	if err != nil {
		progress.EmitError(StageSections, err)
		return nil, err
	}

	progress.EmitStage(StageStore, "Storing final report")
	key := artifact.ReportKey(jobID)
	if err := g.store.Put(ctx, key, []byte(rep.Markdown())); err != nil {
		err = errors.WithDetailf(errors.Wrap(err, "failed to store report"), "Key: %s", key)
		progress.EmitError(StageStore, err)
		return nil, err
	}

	result := &Result{Report: rep, Key: key, Location: g.store.Location(key)}
	progress.EmitComplete(map[string]interface{}{
		"sections":    len(rep.Sections),
		"key":         key,
		"location":    result.Location,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}
