package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the compliance verdict of a snippet from one user's perspective.
//
// ONE TYPE, THREE VALUES:
// PENDING is written by the application whenever a snippet or its rules
// change. COMPLIANT and NOT_COMPLIANT are terminal verdicts and only ever
// arrive through the status queue.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusCompliant    Status = "COMPLIANT"
	StatusNotCompliant Status = "NOT_COMPLIANT"

	// StatusUnknown is a display value for search rows whose status cannot be
	// resolved. It is never stored.
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus accepts exactly the three stored values.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompliant, StatusNotCompliant:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompliant || s == StatusNotCompliant
}

func (s Status) String() string { return string(s) }

// SnippetStatus is the per-(snippet, user) status row.
type SnippetStatus struct {
	ID        int64     `json:"id"`
	SnippetID int64     `json:"snippetId"`
	UserEmail string    `json:"userEmail"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusUpdate is the message analysis workers publish when a verdict is
// ready. It is also the body of the direct status update endpoint.
type StatusUpdate struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	OwnerEmail string `json:"ownerEmail"`

	// CorrelationID echoes the job that produced the verdict, when the
	// worker copies it across.
	CorrelationID string `json:"correlationId,omitempty"`
}
