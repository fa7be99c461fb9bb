package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PairStatus is the state of a per-pair dedup record.
type PairStatus string

const (
	PairQueued  PairStatus = "queued"
	PairRunning PairStatus = "running"
	PairDone    PairStatus = "done"
	PairFailed  PairStatus = "failed"
)

// PairKey identifies a comparison globally. It is order-sensitive.
type PairKey struct {
	ParamID int64
	QryID   int64
	RefID   int64
}

// Pair is a per-pair dedup record.
type Pair struct {
	ID         int64
	Key        PairKey
	Status     PairStatus
	Attempts   int
	QueuedAt   time.Time
	LeaseOwner *uuid.UUID
	LeaseUntil *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Values     PairValues
	Stdout     *string
	Stderr     *string
}

// Terminal reports whether the pair has a final outcome under the retry budget.
func (p *Pair) Terminal(budget int) bool {
	return p.Status == PairDone || (p.Status == PairFailed && p.Attempts >= budget)
}

// Exhausted reports whether the pair failed on every attempt of its budget.
func (p *Pair) Exhausted(budget int) bool {
	return p.Status == PairFailed && p.Attempts >= budget
}

// PairValues are the numeric outputs of one comparison in integer hundredths.
// All nil means the pair fell below the tool's reporting threshold.
type PairValues struct {
	ANI   *int32
	AFQry *int32
	AFRef *int32
}

// PairTask is a claimed pair ready to be executed by a worker.
type PairTask struct {
	PairID  int64
	Key     PairKey
	Attempt int
	Version ToolVersion
	Params  []byte
	Query   GenomeRef
	Ref     GenomeRef
	Owner   uuid.UUID
}

// PairOutcome is the result of executing a PairTask.
type PairOutcome struct {
	Values   PairValues
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Duration time.Duration
}

// Failed reports whether the attempt failed.
func (o *PairOutcome) Failed() bool {
	return o.Err != nil
}

// Hundredths converts a percentage to integer hundredths.
func Hundredths(v float64) int32 {
	return int32(math.Round(v * 100))
}
