package domain

import "time"

// RunnerStatus mirrors the status column of the runners table.
type RunnerStatus string

const (
	RunnerRunning RunnerStatus = "Running"
	RunnerStop    RunnerStatus = "Stop"
)

// Runner is a registered executor host: one process running an
// ExecutorManager loop against a fixed set of GPUs and capability labels.
type Runner struct {
	ID     int64
	Name   string
	GPUIDs string // comma-joined indices this host exposes
	Labels string // comma-joined capability labels, e.g. "a100,fast-disk"
	Status RunnerStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Runner) LabelSet() map[string]struct{} {
	return splitLabelSet(r.Labels)
}

func (r *Runner) GPUIDList() []int {
	return parseIntCSV(r.GPUIDs)
}
