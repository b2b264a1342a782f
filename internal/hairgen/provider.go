package hairgen

import (
	"context"
	"fmt"
	"strings"
)

// JobState is the closed set of provider-reported job states. Raw status
// strings are validated at the adapter boundary; unrecognized values never
// reach the state machine.
type JobState string

const (
	JobStateStarting   JobState = "starting"
	JobStateProcessing JobState = "processing"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateCanceled   JobState = "canceled"
)

// ParseJobState maps a raw provider status string onto the closed enum.
func ParseJobState(raw string) (JobState, error) {
	switch JobState(strings.ToLower(strings.TrimSpace(raw))) {
	case JobStateStarting:
		return JobStateStarting, nil
	case JobStateProcessing:
		return JobStateProcessing, nil
	case JobStateSucceeded:
		return JobStateSucceeded, nil
	case JobStateFailed:
		return JobStateFailed, nil
	case JobStateCanceled:
		return JobStateCanceled, nil
	}
	return "", fmt.Errorf("unrecognized provider status %q", raw)
}

// Terminal reports whether no further transition can occur.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// JobHandle identifies one provider-side job.
type JobHandle struct {
	ID       string
	Provider string
}

// PollResult is one non-blocking status observation. Output carries the
// normalized single image locator once the job succeeded; ErrorMessage
// carries the provider-reported failure reason, if any.
type PollResult struct {
	State        JobState
	Output       string
	ErrorMessage string
}

// Provider is the shared contract over the two generation backends.
// Submit performs the creation call and never blocks for completion; it
// never returns a handle for a job that failed to be created.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req *BuiltRequest) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (PollResult, error)
	Cancel(ctx context.Context, handle JobHandle) bool
}

// ProviderError carries an HTTP-level provider failure with enough shape
// for classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
}

func isVersionGone(err *ProviderError) bool {
	if err == nil || err.StatusCode != 422 {
		return false
	}
	lower := strings.ToLower(err.Message)
	return strings.Contains(lower, "version") &&
		(strings.Contains(lower, "does not exist") || strings.Contains(lower, "not found") || strings.Contains(lower, "invalid"))
}
