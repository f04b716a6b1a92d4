package compliance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/compliq/logger"
)

// Outcome is how a section's review loop ended
type Outcome string

const (
	// OutcomeCompliant: the auditor accepted a draft
	OutcomeCompliant Outcome = "compliant"
	// OutcomeTrialsExhausted: the last draft was accepted after MaxTrials rewrites
	OutcomeTrialsExhausted Outcome = "trials_exhausted"
	// OutcomeNoFollowUps: the auditor rejected the draft without asking anything further
	OutcomeNoFollowUps Outcome = "no_follow_ups"
)

// Answerer is the question-answering step
type Answerer interface {
	Answer(ctx context.Context, questions []string) (string, error)
}

// Drafter is the section drafting step
type Drafter interface {
	Draft(ctx context.Context, in SectionInput) (string, error)
}

// Assessor is the compliance assessment step
type Assessor interface {
	Assess(ctx context.Context, in SectionInput) (Verdict, error)
}

// SectionResult is the final draft of one section
type SectionResult struct {
	Name        string        `json:"name"`
	Order       int           `json:"order"`
	Markdown    string        `json:"markdown"`
	Outcome     Outcome       `json:"outcome"`
	Trials      int           `json:"trials"`
	Drafts      int           `json:"drafts"`
	Assessments int           `json:"assessments"`
	QABlock     string        `json:"-"`
	Duration    time.Duration `json:"duration"`
}

// SectionRunner drives answer, draft and assess for one section until the
// auditor is satisfied or MaxTrials rewrites have been spent
type SectionRunner struct {
	answerer  Answerer
	drafter   Drafter
	assessor  Assessor
	maxTrials int
	logger    *zap.SugaredLogger
}

// NewSectionRunner creates a runner. maxTrials < 0 is treated as 0.
func NewSectionRunner(a Answerer, d Drafter, s Assessor, maxTrials int, log *zap.SugaredLogger) *SectionRunner {
	if maxTrials < 0 {
		maxTrials = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SectionRunner{answerer: a, drafter: d, assessor: s, maxTrials: maxTrials, logger: log}
}

// Run produces the section's final Markdown. At most maxTrials+1 drafts and
// assessments are made; the most recent draft is always the result. Step
// errors are returned as-is.
func (r *SectionRunner) Run(ctx context.Context, section Section) (SectionResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx, r.logger).With(
		logger.FieldSection, section.Name,
		logger.FieldOrder, section.Order,
	)

	result := SectionResult{Name: section.Name, Order: section.Order}
	in := SectionInput{Name: section.Name, Description: section.Description, Number: section.Order}

	questions := section.Questions
	for {
		block, err := r.answerer.Answer(ctx, questions)
		if err != nil {
			return result, err
		}
		// Every round adds to the block; nothing is dropped
		in.QABlock = in.QABlock + "\n\n" + block

		draft, err := r.drafter.Draft(ctx, in)
		if err != nil {
			return result, err
		}
		in.Draft = draft
		result.Drafts++

		verdict, err := r.assessor.Assess(ctx, in)
		if err != nil {
			return result, err
		}
		result.Assessments++

		log.Debugw("Section assessed",
			logger.FieldTrial, result.Trials,
			"compliant", verdict.IsCompliant,
			logger.FieldCount, len(verdict.FollowUpQuestions),
		)

		switch {
		case verdict.IsCompliant:
			result.Outcome = OutcomeCompliant
		case len(verdict.FollowUpQuestions) == 0:
			result.Outcome = OutcomeNoFollowUps
		case result.Trials >= r.maxTrials:
			result.Outcome = OutcomeTrialsExhausted
		default:
			result.Trials++
			questions = verdict.FollowUpQuestions
			continue
		}
		break
	}

	result.Markdown = in.Draft
	result.QABlock = in.QABlock
	result.Duration = time.Since(start)

	log.Infow("Section finished",
		logger.FieldOutcome, result.Outcome,
		logger.FieldTrial, result.Trials,
		logger.FieldDurationMS, result.Duration.Milliseconds(),
	)
	return result, nil
}
