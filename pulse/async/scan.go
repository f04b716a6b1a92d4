package async

import (
	"database/sql"
)

// JobScanArgs holds the nullable columns of a job row while scanning
type JobScanArgs struct {
	Payload           sql.NullString
	AnalysisSection   sql.NullString
	AnalysisTimestamp sql.NullInt64
	ReportKey         sql.NullString
	ErrorMsg          sql.NullString
	ClaimedBy         sql.NullString
	ClaimedAt         sql.NullTime
	StartedAt         sql.NullTime
	CompletedAt       sql.NullTime
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Status,
		&args.Payload,
		&args.AnalysisSection,
		&args.AnalysisTimestamp,
		&args.ReportKey,
		&args.ErrorMsg,
		&args.ClaimedBy,
		&args.ClaimedAt,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable values onto job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.AnalysisSection.Valid {
		job.AnalysisSection = args.AnalysisSection.String
	}
	if args.AnalysisTimestamp.Valid {
		job.AnalysisTimestamp = args.AnalysisTimestamp.Int64
	}
	if args.ReportKey.Valid {
		job.ReportKey = args.ReportKey.String
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.ClaimedBy.Valid {
		job.ClaimedBy = args.ClaimedBy.String
	}
	if args.ClaimedAt.Valid {
		job.ClaimedAt = &args.ClaimedAt.Time
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row
func scanJob(row rowScanner, job *Job) error {
	args := &JobScanArgs{}
	if err := row.Scan(GetJobScanTargets(job, args)...); err != nil {
		return err
	}
	ProcessJobScanArgs(job, args)
	return nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, status, payload,
		analysis_section, analysis_timestamp, report_key, error,
		claimed_by, claimed_at,
		created_at, started_at, completed_at, updated_at`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
