package constants

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

// Stable values (stored verbatim in the jobs table).
const (
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusUploaded, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ExtractionMethod records how text was obtained from a document.
type ExtractionMethod string

const (
	ExtractionNative ExtractionMethod = "native"
	ExtractionOCR    ExtractionMethod = "ocr"
)

// Urgency of a recommendation.
type Urgency string

const (
	UrgencyUrgent    Urgency = "urgent"
	UrgencyNonUrgent Urgency = "non-urgent"
)

// Lab result flags.
const (
	LabFlagLow    = "low"
	LabFlagHigh   = "high"
	LabFlagNormal = "normal"
)
