package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidStatus = errors.New("invalid job status")
)

// JobStatus mirrors the status column of the jobs table.
type JobStatus string

const (
	StatusQueue   JobStatus = "Queue"
	StatusRunning JobStatus = "Running"
	StatusFinish  JobStatus = "Finish"
	StatusFail    JobStatus = "Fail"
	StatusCancel  JobStatus = "Cancel"
	StatusStop    JobStatus = "Stop"
)

// IsTerminal reports whether status is one that nothing but a deliberate
// resume-requeue should move away from.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFinish, StatusFail, StatusCancel, StatusStop:
		return true
	default:
		return false
	}
}

// Job is a unit of work claimed and executed by exactly one runner.
type Job struct {
	ID             int64
	RepoURL        string
	CommitHash     string
	Status         JobStatus
	Command        string
	Message        string
	Priority       int
	NumGPU         int
	RequiredLabels string // comma-joined
	Executor       string // empty => default backend
	GPUIDs         string // comma-joined reserved indices
	Host           string // runner name that claimed the job
	RunID          string // workspace directory basename
	ScheduleID     *int64 // set when the job was fired by a Schedule

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiredLabelSet splits RequiredLabels on commas, dropping the empty entry.
func (j *Job) RequiredLabelSet() map[string]struct{} {
	return splitLabelSet(j.RequiredLabels)
}

// GPUIDList parses GPUIDs into ints, in stored order.
func (j *Job) GPUIDList() []int {
	return parseIntCSV(j.GPUIDs)
}

func splitLabelSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	if csv == "" {
		return set
	}
	for _, l := range strings.Split(csv, ",") {
		set[l] = struct{}{}
	}
	return set
}

func parseIntCSV(csv string) []int {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// LabelsSubsetOf reports whether every element of required is present in have.
func LabelsSubsetOf(required, have map[string]struct{}) bool {
	for l := range required {
		if _, ok := have[l]; !ok {
			return false
		}
	}
	return true
}

// JobUpdate carries only the fields a caller wants changed; nil fields are
// left untouched by the store.
type JobUpdate struct {
	Status  *JobStatus
	Message *string
	GPUIDs  *string
	Host    *string
	RunID   *string
}
