// Package compliance generates compliance reports with three cooperating agents.
//
// For every section of a ReportTemplate, in ascending order, the lawyer answers
// the section's questions, the writer drafts the section from the accumulated
// answers and the auditor judges the draft. A non-compliant verdict sends its
// follow-up questions back to the lawyer and the section is redrafted, up to
// MaxTrials times. The last draft always wins, compliant or not.
//
// The Assembler joins the final drafts in order and prefixes a table of
// contents built from the # and ## headings.
package compliance
