// Package artifact stores generated report files.
//
// Keys are slash-separated and relative: {job_id}/report/{section}.md for
// per-section drafts and {job_id}/report/compliance_report.md for the final
// document. Backends are the local filesystem and S3.
package artifact

import (
	"context"
	"strings"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
)

// ReportFile is the name of the final document within a job's report folder
const ReportFile = "compliance_report.md"

// MarkdownContentType is sent with every artifact written to S3
const MarkdownContentType = "text/markdown; charset=utf-8"

// Store reads and writes artifacts by key
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns errors.ErrNotFound (wrapped) for unknown keys
	Get(ctx context.Context, key string) ([]byte, error)
	// Location renders where key lives, for display
	Location(key string) string
}

// SectionKey is the key of one section draft
func SectionKey(jobID, section string) string {
	return jobID + "/report/" + sanitize(section) + ".md"
}

// ReportKey is the key of the final report
func ReportKey(jobID string) string {
	return jobID + "/report/" + ReportFile
}

var sanitizer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// sanitize keeps a section name from introducing extra path segments
func sanitize(name string) string {
	s := sanitizer.Replace(strings.TrimSpace(name))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Open builds the store configured in cfg.Artifacts
func Open(ctx context.Context, cfg *am.Config) (Store, error) {
	switch cfg.Artifacts.Backend {
	case am.ArtifactsFS, "":
		return NewFileStore(cfg.Artifacts.Dir)
	case am.ArtifactsS3:
		return NewS3StoreFromEnvironment(ctx, cfg.Artifacts.Bucket, cfg.Artifacts.Prefix, cfg.ArtifactsRegion())
	default:
		return nil, errors.WithHint(
			errors.Newf("unknown artifacts backend %q", cfg.Artifacts.Backend),
			"Set artifacts.backend to \"fs\" or \"s3\"",
		)
	}
}
