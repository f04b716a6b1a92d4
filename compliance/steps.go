package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/errors"
)

// ErrUnexpectedResponse is returned when an agent answers with a shape its role never produces
var ErrUnexpectedResponse = errors.New("unexpected agent response")

// Workload identifies what the report is about
type Workload struct {
	Country  string
	Industry string
	Name     string
}

// Endpoint addresses one deployed agent within a session
type Endpoint struct {
	AgentID   string
	SessionID string
	Qualifier string
}

func (e Endpoint) invocation(payload any) agent.Invocation {
	return agent.Invocation{
		AgentID:   e.AgentID,
		SessionID: e.SessionID,
		Qualifier: e.Qualifier,
		Payload:   payload,
	}
}

// SectionInput is what the writer and auditor see of a section
type SectionInput struct {
	Name        string
	Description string
	Number      int
	QABlock     string
	Draft       string
}

// Verdict is the auditor's judgement of a draft
type Verdict struct {
	IsCompliant       bool     `json:"is_compliant"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Lawyer answers questions through the lawyer agent
type Lawyer struct {
	invoker  agent.Invoker
	endpoint Endpoint
	workload Workload
}

// NewLawyer creates the question-answering step
func NewLawyer(invoker agent.Invoker, endpoint Endpoint, workload Workload) *Lawyer {
	return &Lawyer{invoker: invoker, endpoint: endpoint, workload: workload}
}

type lawyerInput struct {
	Country   string   `json:"country"`
	Industry  string   `json:"industry"`
	Workload  string   `json:"workload"`
	Questions []string `json:"questions"`
}

// Answer returns the QA block for questions. Structured answers are rendered as
// <qa_pair> elements separated by blank lines; free text passes through unchanged.
// No questions means no call and an empty block.
func (l *Lawyer) Answer(ctx context.Context, questions []string) (string, error) {
	if len(questions) == 0 {
		return "", nil
	}

	resp, err := l.invoker.Invoke(ctx, l.endpoint.invocation(lawyerInput{
		Country:   l.workload.Country,
		Industry:  l.workload.Industry,
		Workload:  l.workload.Name,
		Questions: questions,
	}))
	if err != nil {
		return "", err
	}

	switch r := resp.(type) {
	case agent.StructuredQA:
		return FormatQAPairs(r.Pairs), nil
	case agent.FreeText:
		return r.Text, nil
	default:
		return "", errors.Wrapf(ErrUnexpectedResponse, "lawyer answered with %T", resp)
	}
}

// FormatQAPairs renders pairs as the QA block the writer and auditor consume
func FormatQAPairs(pairs []agent.QAPair) string {
	rendered := make([]string, len(pairs))
	for i, p := range pairs {
		rendered[i] = fmt.Sprintf("<qa_pair>Question:%s Answer:%s</qa_pair>", p.Question, p.Answer)
	}
	return strings.Join(rendered, "\n\n")
}

// Writer drafts sections through the writer agent
type Writer struct {
	invoker  agent.Invoker
	endpoint Endpoint
	workload Workload
}

// NewWriter creates the drafting step
func NewWriter(invoker agent.Invoker, endpoint Endpoint, workload Workload) *Writer {
	return &Writer{invoker: invoker, endpoint: endpoint, workload: workload}
}

type writerInput struct {
	Country       string `json:"country"`
	Industry      string `json:"industry"`
	Workload      string `json:"workload"`
	Section       string `json:"section"`
	Description   string `json:"description"`
	SectionNumber int    `json:"section_number"`
	Questions     string `json:"questions"`
}

// Draft returns the Markdown draft for a section. The Markdown is not validated.
func (w *Writer) Draft(ctx context.Context, in SectionInput) (string, error) {
	resp, err := w.invoker.Invoke(ctx, w.endpoint.invocation(writerInput{
		Country:       w.workload.Country,
		Industry:      w.workload.Industry,
		Workload:      w.workload.Name,
		Section:       in.Name,
		Description:   in.Description,
		SectionNumber: in.Number,
		Questions:     in.QABlock,
	}))
	if err != nil {
		return "", err
	}

	text, ok := resp.(agent.FreeText)
	if !ok {
		return "", errors.Wrapf(ErrUnexpectedResponse, "writer answered with %T", resp)
	}
	return text.Text, nil
}

// Auditor assesses drafts through the auditor agent
type Auditor struct {
	invoker  agent.Invoker
	endpoint Endpoint
	workload Workload
}

// NewAuditor creates the assessment step
func NewAuditor(invoker agent.Invoker, endpoint Endpoint, workload Workload) *Auditor {
	return &Auditor{invoker: invoker, endpoint: endpoint, workload: workload}
}

type auditorInput struct {
	Country        string `json:"country"`
	Industry       string `json:"industry"`
	Workload       string `json:"workload"`
	Section        string `json:"section"`
	Description    string `json:"description"`
	MarkdownReport string `json:"markdown_report"`
	Questions      string `json:"questions"`
}

// Assess returns the auditor's verdict on in.Draft
func (a *Auditor) Assess(ctx context.Context, in SectionInput) (Verdict, error) {
	resp, err := a.invoker.Invoke(ctx, a.endpoint.invocation(auditorInput{
		Country:        a.workload.Country,
		Industry:       a.workload.Industry,
		Workload:       a.workload.Name,
		Section:        in.Name,
		Description:    in.Description,
		MarkdownReport: in.Draft,
		Questions:      in.QABlock,
	}))
	if err != nil {
		return Verdict{}, err
	}

	obj, ok := resp.(agent.StructuredJSON)
	if !ok {
		return Verdict{}, errors.Wrapf(ErrUnexpectedResponse, "auditor answered with %T", resp)
	}
	var v Verdict
	if err := obj.Decode(&v); err != nil {
		return Verdict{}, errors.Mark(err, ErrUnexpectedResponse)
	}
	return v, nil
}
