// Package template loads report templates from JSON, YAML and TOML documents.
//
// A template maps section names to {description, questions, order}. Section
// declaration order is preserved in every format, because it decides where
// sections without an explicit order end up. The wrapped form
//
//	{"schema_version": "1.2.0", "sections": {...}}
//
// is accepted as well, and its version must satisfy SupportedSchema.
package template

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
)

// SupportedSchema is the semver constraint wrapped templates must satisfy
const SupportedSchema = ">=1.0.0, <2.0.0"

// Format is a template document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

const (
	keySchemaVersion = "schema_version"
	keySections      = "sections"
)

// sectionSpec is one section as written in a document
type sectionSpec struct {
	Description string   `json:"description" yaml:"description" toml:"description"`
	Questions   []string `json:"questions" yaml:"questions" toml:"questions"`
	Order       int      `json:"order" yaml:"order" toml:"order"`
}

// document is a decoded template before validation
type document struct {
	version  string
	sections []compliance.Section
}

func (d *document) add(name string, spec sectionSpec) {
	d.sections = append(d.sections, compliance.Section{
		Name:        name,
		Description: spec.Description,
		Questions:   spec.Questions,
		Order:       spec.Order,
	})
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported template file %s", filepath.Base(path))
	}
}

// LoadFile reads and parses the template at path
func LoadFile(path string) (compliance.ReportTemplate, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return compliance.ReportTemplate{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return compliance.ReportTemplate{}, errors.Wrapf(err, "failed to read template %s", path)
	}
	tpl, err := Parse(data, format)
	if err != nil {
		return compliance.ReportTemplate{}, errors.WithDetailf(err, "Template file: %s", path)
	}
	return tpl, nil
}

// Parse decodes and validates a template document
func Parse(data []byte, format Format) (compliance.ReportTemplate, error) {
	return ParseAt(data, format)
}

// ParseAt decodes the template found under path inside a larger document,
// e.g. ParseAt(request, FormatYAML, "template") for an inbox request.
func ParseAt(data []byte, format Format, path ...string) (compliance.ReportTemplate, error) {
	var (
		doc *document
		err error
	)
	switch format {
	case FormatJSON:
		doc, err = decodeJSON(data, path)
	case FormatYAML:
		doc, err = decodeYAML(data, path)
	case FormatTOML:
		doc, err = decodeTOML(data, path)
	default:
		err = errors.NewInvalidRequestError("unknown template format %q", format)
	}
	if err != nil {
		return compliance.ReportTemplate{}, err
	}

	if err := checkSchemaVersion(doc.version); err != nil {
		return compliance.ReportTemplate{}, err
	}

	tpl := compliance.ReportTemplate{Sections: doc.sections}
	if err := tpl.Validate(); err != nil {
		return compliance.ReportTemplate{}, err
	}
	return tpl, nil
}

func checkSchemaVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.WithDetail(errors.NewInvalidRequestError("invalid schema_version %q", version), err.Error())
	}
	constraint, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return errors.Wrap(err, "invalid supported schema constraint")
	}
	if !constraint.Check(v) {
		return errors.WithHint(
			errors.NewInvalidRequestError("template schema_version %s is not supported", version),
			"Supported versions: "+SupportedSchema,
		)
	}
	return nil
}

// isWrapped reports whether keys describe {schema_version?, sections}
func isWrapped(keys []string) bool {
	hasSections := false
	for _, k := range keys {
		switch k {
		case keySections:
			hasSections = true
		case keySchemaVersion:
		default:
			return false
		}
	}
	return hasSections
}

// Merge consolidates partial templates into base. Questions for a section are
// concatenated without duplicates; base keeps its order and description, and
// sections new to base are appended after it in the order they are met.
func Merge(base compliance.ReportTemplate, others ...compliance.ReportTemplate) compliance.ReportTemplate {
	merged := make([]compliance.Section, 0, len(base.Sections))
	index := make(map[string]int, len(base.Sections))

	add := func(s compliance.Section, keepOrder bool) {
		i, ok := index[s.Name]
		if !ok {
			s.Questions = appendUnique(nil, s.Questions...)
			if !keepOrder {
				s.Order = 0
			}
			index[s.Name] = len(merged)
			merged = append(merged, s)
			return
		}
		if merged[i].Description == "" {
			merged[i].Description = s.Description
		}
		merged[i].Questions = appendUnique(merged[i].Questions, s.Questions...)
	}

	for _, s := range base.Sections {
		add(s, true)
	}
	for _, other := range others {
		for _, s := range other.Sections {
			add(s, false)
		}
	}

	return compliance.ReportTemplate{Sections: compliance.NormalizeOrder(merged)}
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst)+len(items))
	for _, q := range dst {
		seen[q] = true
	}
	for _, q := range items {
		if seen[q] {
			continue
		}
		seen[q] = true
		dst = append(dst, q)
	}
	return dst
}
