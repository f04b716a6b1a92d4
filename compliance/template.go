package compliance

import (
	"sort"
	"strings"

	"github.com/teranos/compliq/errors"
)

// Section is one report section as declared by a template
type Section struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Questions   []string `json:"questions"`
	Order       int      `json:"order"` // 0 = unset, assigned by NormalizeOrder
}

// ReportTemplate is an ordered set of uniquely named sections.
// Sections keep the order in which the source declared them.
type ReportTemplate struct {
	Sections []Section `json:"sections"`
}

// Lookup returns the section with the given name
func (t ReportTemplate) Lookup(name string) (Section, bool) {
	for _, s := range t.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Validate checks the template can drive a report
func (t ReportTemplate) Validate() error {
	if len(t.Sections) == 0 {
		return errors.NewInvalidRequestError("report template has no sections")
	}
	seen := make(map[string]bool, len(t.Sections))
	for i, s := range t.Sections {
		if strings.TrimSpace(s.Name) == "" {
			return errors.NewInvalidRequestError("report template section %d has no name", i+1)
		}
		if seen[s.Name] {
			return errors.NewInvalidRequestError("report template repeats section %q", s.Name)
		}
		seen[s.Name] = true
		if s.Order < 0 {
			return errors.NewInvalidRequestError("section %q has negative order %d", s.Name, s.Order)
		}
		if len(s.Questions) == 0 {
			return errors.NewInvalidRequestError("section %q has no questions", s.Name)
		}
	}
	return nil
}

// NormalizeOrder returns the sections sorted by order and relabelled 1..N.
// Sections without an order get max+1, max+2, ... in declaration order first;
// ties keep declaration order. The input is not modified.
func NormalizeOrder(sections []Section) []Section {
	out := make([]Section, len(sections))
	copy(out, sections)

	maxOrder := 0
	for _, s := range out {
		if s.Order > maxOrder {
			maxOrder = s.Order
		}
	}
	for i := range out {
		if out[i].Order <= 0 {
			maxOrder++
			out[i].Order = maxOrder
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Normalized returns a copy of the template with dense ordering
func (t ReportTemplate) Normalized() ReportTemplate {
	return ReportTemplate{Sections: NormalizeOrder(t.Sections)}
}
