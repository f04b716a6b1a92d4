package compliance

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
)

// ReportTitle heads every generated report
const ReportTitle = "# Compliance Report\n\n"

// ComplianceReport is the assembled report
type ComplianceReport struct {
	TableOfContents string          `json:"table_of_contents"`
	Sections        []SectionResult `json:"sections"`
	Body            string          `json:"-"`
}

// Markdown renders the final document
func (r *ComplianceReport) Markdown() string {
	return ReportTitle + r.TableOfContents + r.Body
}

// SectionObserver is told about every finished section, in order.
// Returning an error aborts the assembly.
type SectionObserver func(ctx context.Context, result SectionResult) error

// Assembler runs every section of a template and joins the results
type Assembler struct {
	runner   *SectionRunner
	observer SectionObserver
	logger   *zap.SugaredLogger
}

// NewAssembler creates an assembler; observer may be nil
func NewAssembler(runner *SectionRunner, observer SectionObserver, log *zap.SugaredLogger) *Assembler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Assembler{runner: runner, observer: observer, logger: log}
}

// Assemble runs the sections in ascending order, one at a time. Any section
// failure aborts with no report.
func (a *Assembler) Assemble(ctx context.Context, tpl ReportTemplate) (*ComplianceReport, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	sections := NormalizeOrder(tpl.Sections)
	log := logger.FromContext(ctx, a.logger)
	log.Infow("Assembling compliance report", logger.FieldCount, len(sections))

	start := time.Now()
	results := make([]SectionResult, 0, len(sections))
	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "report interrupted before section %q", section.Name)
		}

		result, err := a.runner.Run(ctx, section)
		if err != nil {
			return nil, errors.WithDetailf(errors.Wrapf(err, "section %q failed", section.Name),
				"Section order: %d", section.Order)
		}
		results = append(results, result)

		if a.observer != nil {
			if err := a.observer(ctx, result); err != nil {
				return nil, errors.Wrapf(err, "section %q observer", section.Name)
			}
		}
	}

	report := BuildReport(results)
	log.Infow("Compliance report assembled",
		logger.FieldCount, len(results),
		logger.FieldSize, len(report.Body),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return report, nil
}

// BuildReport orders results, joins their Markdown and indexes the headings
func BuildReport(results []SectionResult) *ComplianceReport {
	sorted := make([]SectionResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	bodies := make([]string, len(sorted))
	for i, r := range sorted {
		bodies[i] = r.Markdown
	}
	body := strings.Join(bodies, "\n\n")

	return &ComplianceReport{
		TableOfContents: TableOfContents(body),
		Sections:        sorted,
		Body:            body,
	}
}

// Agents addresses the three roles for one job
type Agents struct {
	Lawyer  Endpoint
	Writer  Endpoint
	Auditor Endpoint
}

// NewJobAssembler wires the three steps for one workload into an assembler
func NewJobAssembler(invoker agent.Invoker, agents Agents, workload Workload, maxTrials int, observer SectionObserver, log *zap.SugaredLogger) *Assembler {
	runner := NewSectionRunner(
		NewLawyer(invoker, agents.Lawyer, workload),
		NewWriter(invoker, agents.Writer, workload),
		NewAuditor(invoker, agents.Auditor, workload),
		maxTrials,
		log,
	)
	return NewAssembler(runner, observer, log)
}
