// Package intake turns report request files into queued compliance jobs.
//
// A request names the workload and carries its template inline or by path:
//
//	country = "Spain"
//	industry = "Fintech"
//	workload = "Payments API"
//	template_file = "templates/gdpr.yaml"
//	template_files = ["templates/fintech-extra.yaml"]
//
// Additional template_files are merged into the first template: questions are
// concatenated per section and new sections are appended.
//
// Requests arrive through an inbox directory (Inbox) or `compliq job submit`.
package intake

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/compliance/template"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/pulse/async"
	"github.com/teranos/compliq/pulse/report"
)

// Request is a parsed report request
type Request struct {
	JobID  string
	Params report.JobParams
}

// requestFields are the scalar fields of a request document
type requestFields struct {
	JobID         string      `json:"job_id" yaml:"job_id" toml:"job_id"`
	Country       string      `json:"country" yaml:"country" toml:"country"`
	Industry      string      `json:"industry" yaml:"industry" toml:"industry"`
	Workload      string      `json:"workload" yaml:"workload" toml:"workload"`
	SessionID     string      `json:"session_id" yaml:"session_id" toml:"session_id"`
	LawyerID      string      `json:"lawyer_id" yaml:"lawyer_id" toml:"lawyer_id"`
	WriterID      string      `json:"writer_id" yaml:"writer_id" toml:"writer_id"`
	AuditorID     string      `json:"auditor_id" yaml:"auditor_id" toml:"auditor_id"`
	Qualifier     string      `json:"qualifier" yaml:"qualifier" toml:"qualifier"`
	TemplateFile  string      `json:"template_file" yaml:"template_file" toml:"template_file"`
	TemplateFiles []string    `json:"template_files" yaml:"template_files" toml:"template_files"`
	Template      interface{} `json:"template" yaml:"template" toml:"template"`
}

// IsRequestFile reports whether name looks like a request document
func IsRequestFile(name string) bool {
	base := filepath.Base(name)
	if base == "" || base[0] == '.' {
		return false
	}
	_, err := template.FormatFromPath(base)
	return err == nil
}

// LoadRequestFile reads a request; template_file is resolved relative to the request
func LoadRequestFile(path string) (*Request, error) {
	format, err := template.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read request %s", path)
	}
	req, err := ParseRequest(data, format, filepath.Dir(path))
	if err != nil {
		return nil, errors.WithDetailf(err, "Request file: %s", path)
	}
	return req, nil
}

// ParseRequest decodes a request document. The template is either inline
// under "template" or loaded from template_file; template_files are merged
// into it. Relative paths start at baseDir.
func ParseRequest(data []byte, format template.Format, baseDir string) (*Request, error) {
	var fields requestFields
	var err error
	switch format {
	case template.FormatJSON:
		err = json.Unmarshal(data, &fields)
	case template.FormatYAML:
		err = yaml.Unmarshal(data, &fields)
	case template.FormatTOML:
		_, err = toml.Decode(string(data), &fields)
	default:
		return nil, errors.NewInvalidRequestError("unknown request format %q", format)
	}
	if err != nil {
		return nil, errors.WithDetail(
			errors.Wrapf(errors.ErrInvalidRequest, "request is not valid %s", format),
			err.Error())
	}

	req := &Request{
		JobID: fields.JobID,
		Params: report.JobParams{
			Country:   fields.Country,
			Industry:  fields.Industry,
			Workload:  fields.Workload,
			SessionID: fields.SessionID,
			LawyerID:  fields.LawyerID,
			WriterID:  fields.WriterID,
			AuditorID: fields.AuditorID,
			Qualifier: fields.Qualifier,
		},
	}

	var files []string
	if fields.TemplateFile != "" {
		files = append(files, fields.TemplateFile)
	}
	files = append(files, fields.TemplateFiles...)

	var parts []compliance.ReportTemplate
	switch {
	case fields.Template != nil && fields.TemplateFile != "":
		return nil, errors.NewInvalidRequestError("request has both template and template_file")
	case fields.Template != nil:
		tpl, err := template.ParseAt(data, format, "template")
		if err != nil {
			return nil, errors.Wrap(err, "template")
		}
		parts = append(parts, tpl)
	case len(files) == 0:
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("request has no template"),
			"add a template table or a template_file path")
	}

	for _, path := range files {
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		tpl, err := template.LoadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "template")
		}
		parts = append(parts, tpl)
	}

	if len(parts) == 1 {
		req.Params.Template = parts[0]
	} else {
		req.Params.Template = template.Merge(parts[0], parts[1:]...)
	}
	return req, nil
}

// Submit fills defaults from configuration and enqueues the request.
// Field validation is left to the job so that failures are visible on its record.
func Submit(queue *async.Queue, req *Request, agents am.AgentsConfig) (*async.Job, error) {
	params := req.Params
	params.ApplyDefaults(agents)

	payload, err := params.Encode()
	if err != nil {
		return nil, err
	}
	job, err := async.NewJob(req.JobID, payload)
	if err != nil {
		return nil, err
	}
	if err := queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}
