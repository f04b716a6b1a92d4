// Package report runs compliance report jobs: it decodes the job payload,
// drives the three agents through every template section and stores the
// resulting Markdown.
package report

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
)

// JobParams is the payload of a compliance job
type JobParams struct {
	Country   string                    `json:"country" yaml:"country" toml:"country"`
	Industry  string                    `json:"industry" yaml:"industry" toml:"industry"`
	Workload  string                    `json:"workload" yaml:"workload" toml:"workload"`
	SessionID string                    `json:"session_id" yaml:"session_id" toml:"session_id"`
	LawyerID  string                    `json:"lawyer_id" yaml:"lawyer_id" toml:"lawyer_id"`
	WriterID  string                    `json:"writer_id" yaml:"writer_id" toml:"writer_id"`
	AuditorID string                    `json:"auditor_id" yaml:"auditor_id" toml:"auditor_id"`
	Qualifier string                    `json:"qualifier,omitempty" yaml:"qualifier,omitempty" toml:"qualifier,omitempty"`
	Template  compliance.ReportTemplate `json:"template" yaml:"-" toml:"-"`
}

// DecodeParams reads a job payload. Unknown fields are rejected.
func DecodeParams(payload []byte) (JobParams, error) {
	var p JobParams
	if len(bytes.TrimSpace(payload)) == 0 {
		return p, errors.NewInvalidRequestError("job payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, errors.WithDetail(
			errors.Wrap(errors.ErrInvalidRequest, "job payload is not valid JSON"),
			err.Error())
	}
	return p, nil
}

// Encode renders the payload stored on the job record
func (p JobParams) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job payload")
	}
	return b, nil
}

// ApplyDefaults fills agent ids and qualifier from configuration and
// generates a session id when none was given
func (p *JobParams) ApplyDefaults(cfg am.AgentsConfig) {
	if p.LawyerID == "" {
		p.LawyerID = cfg.LawyerID
	}
	if p.WriterID == "" {
		p.WriterID = cfg.WriterID
	}
	if p.AuditorID == "" {
		p.AuditorID = cfg.AuditorID
	}
	if p.Qualifier == "" {
		p.Qualifier = cfg.Qualifier
	}
	if p.Qualifier == "" {
		p.Qualifier = am.DefaultQualifier
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
}

// Validate reports the first missing required field
func (p JobParams) Validate() error {
	required := []struct{ name, value string }{
		{"country", p.Country},
		{"industry", p.Industry},
		{"workload", p.Workload},
		{"lawyer_id", p.LawyerID},
		{"writer_id", p.WriterID},
		{"auditor_id", p.AuditorID},
		{"session_id", p.SessionID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errors.WithHint(
				errors.NewInvalidRequestError("%s is required", f.name),
				"agent ids default from agents.* in am.toml; session_id is generated on submit")
		}
	}
	if err := p.Template.Validate(); err != nil {
		return errors.Wrap(err, "template")
	}
	return nil
}

// WorkloadContext is what every agent is told about the workload
func (p JobParams) WorkloadContext() compliance.Workload {
	return compliance.Workload{Country: p.Country, Industry: p.Industry, Name: p.Workload}
}

// Agents addresses the three roles within the job's session
func (p JobParams) Agents() compliance.Agents {
	endpoint := func(id string) compliance.Endpoint {
		return compliance.Endpoint{AgentID: id, SessionID: p.SessionID, Qualifier: p.Qualifier}
	}
	return compliance.Agents{
		Lawyer:  endpoint(p.LawyerID),
		Writer:  endpoint(p.WriterID),
		Auditor: endpoint(p.AuditorID),
	}
}
