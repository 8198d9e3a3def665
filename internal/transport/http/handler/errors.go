package handler

const (
	errInternalServer = "Internal server error"
	errJobNotFound     = "Job not found"
	errJobTerminal     = "Job has already reached a terminal status"
	errRunnerNotFound  = "Runner not found"
	errInvalidCursor   = "Invalid pagination cursor"
)
