package domain

// Attachment is one file attached to a submission.
type Attachment struct {
	URL      string
	Filename string
}

// Submission is one student's submission as listed by the feed.
type Submission struct {
	ID          string
	UserID      string
	StudentName string
	Attachments []Attachment
}

// GradeRecord is one ledger row. It is produced once per submission that
// reached the end of the pipeline and never updated afterwards.
type GradeRecord struct {
	SubmissionID string
	UserID       string
	StudentName  string
	TotalScore   float64
	MaxScore     float64
	ReportPath   string
}

// Stage names the pipeline step at which a submission left the pipeline.
type Stage string

const (
	StageAttachments Stage = "attachments"
	StageDownload    Stage = "download"
	StageExtract     Stage = "extract"
	StageScore       Stage = "score"
	StageRender      Stage = "render"
)

// SkipRecord is one skip-log row for a submission that produced no grade.
type SkipRecord struct {
	SubmissionID    string
	UserID          string
	StudentName     string
	Stage           Stage
	Reason          string
	RawResponsePath string
}
