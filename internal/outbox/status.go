package outbox

import "fmt"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusPublished, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown outbox status %q", s)
	}
}

// CanTransitionTo reports whether a drain pass may move a row from s to next.
// PUBLISHED is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending, StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusPublished || next == StatusFailed
	default:
		return false
	}
}
