package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CalcMode is the calculation mode of a job.
type CalcMode string

const (
	ModeQvR      CalcMode = "qvr"
	ModeTriangle CalcMode = "triangle"
)

// ParseCalcMode accepts the canonical names plus the portal's display forms.
func ParseCalcMode(s string) (CalcMode, bool) {
	switch s {
	case "qvr", "QvR", "QVR":
		return ModeQvR, true
	case "triangle", "Triangle", "TRIANGLE":
		return ModeTriangle, true
	}
	return "", false
}

// DeletePolicy is the retention policy of a job's uploads.
type DeletePolicy string

const (
	DeleteDisabled DeletePolicy = "disabled"
	DeleteOneHour  DeletePolicy = "1_hour"
	DeleteOneDay   DeletePolicy = "1_day"
	DeleteOneWeek  DeletePolicy = "1_week"
	DeleteOneMonth DeletePolicy = "1_month"
)

// Valid reports whether p is a known policy.
func (p DeletePolicy) Valid() bool {
	switch p {
	case DeleteDisabled, DeleteOneHour, DeleteOneDay, DeleteOneWeek, DeleteOneMonth:
		return true
	}
	return false
}

// DeleteAfter returns created + policy, or nil when retention is disabled.
func (p DeletePolicy) DeleteAfter(created time.Time) *time.Time {
	var t time.Time
	switch p {
	case DeleteOneHour:
		t = created.Add(time.Hour)
	case DeleteOneDay:
		t = created.AddDate(0, 0, 1)
	case DeleteOneWeek:
		t = created.AddDate(0, 0, 7)
	case DeleteOneMonth:
		t = created.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &t
}

// JobName is the external 32-bit job identifier.
type JobName uint32

// String renders the name as 8 lowercase hex characters.
func (n JobName) String() string {
	return fmt.Sprintf("%08x", uint32(n))
}

// ParseJobName parses an 8-character hexadecimal job name.
func ParseJobName(s string) (JobName, bool) {
	if len(s) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return JobName(v), true
}

// Job is a persisted ANI job.
type Job struct {
	ID           int64
	Name         string
	ParamID      int64
	Mode         CalcMode
	Email        *string
	DeletePolicy DeletePolicy
	Fingerprint  string
	Created      time.Time
	Ready        bool
	Expanded     bool
	Deleted      bool
	Completed    *time.Time
	Error        *bool
	Stdout       *string
	Stderr       *string
	DeleteAfter  *time.Time
}

// IsPending reports whether the job is waiting in the queue.
func (j *Job) IsPending() bool {
	return j.Ready && !j.Deleted && j.Completed == nil
}

// JobRequest is a submission as received from a client.
type JobRequest struct {
	Query     []string                   `json:"query"`
	Reference []string                   `json:"reference"`
	Params    map[string]json.RawMessage `json:"params"`
	CalcMode  string                     `json:"calcMode"`
	Version   string                     `json:"version"`
	Email     string                     `json:"email"`

	UploadMetadata *UploadMetadata `json:"uploadMetadata,omitempty"`
	Files          []UploadBody    `json:"-"`
}

// UploadMetadata accompanies uploaded files.
type UploadMetadata struct {
	FileNames   []string     `json:"fileNames"`
	DeleteAfter DeletePolicy `json:"deleteAfter"`
}

// UploadBody is one uploaded file body. Size is advisory; the service measures it.
type UploadBody struct {
	FileName string
	Size     int64
	Body     io.Reader
}

// NewJob is everything the submission path persists for a job.
type NewJob struct {
	Name         string
	ParamID      int64
	Mode         CalcMode
	Email        *string
	DeletePolicy DeletePolicy
	Fingerprint  string
	DeleteAfter  *time.Time
	Created      time.Time
}

// JobStatus is the status projection of a job.
type JobStatus struct {
	JobID            string        `json:"jobId"`
	CreatedEpoch     int64         `json:"createdEpoch"`
	CompletedEpoch   *int64        `json:"completedEpoch"`
	Error            *bool         `json:"error"`
	PositionInQueue  *int          `json:"positionInQueue"`
	TotalPendingJobs *int          `json:"totalPendingJobs"`
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	DeleteAfter      *DeletePolicy `json:"deleteAfter"`
}
