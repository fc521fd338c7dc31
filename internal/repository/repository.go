// Package repository defines storage interfaces for the gateway's request
// audit log.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Request outcome statuses recorded in the audit log.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCanceled  = "canceled"
)

// RequestLog is one completed gateway exchange: who asked, what was sent
// upstream, and how the stream ended. Conversation content itself is not
// persisted, only sizes.
type RequestLog struct {
	ID             uuid.UUID
	ClientID       string
	Model          string
	Status         string
	ErrorMessage   string
	MessageCount   int
	PromptChars    int
	ContentChars   int
	ReasoningChars int
	CreatedAt      time.Time
	CompletedAt    time.Time
}

// Duration returns the exchange's wall-clock duration.
func (l *RequestLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.CreatedAt)
}

// RequestLogRepository persists request audit records.
type RequestLogRepository interface {
	// Create inserts one finished request record.
	Create(ctx context.Context, log *RequestLog) error

	// ListRecent returns the most recent records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*RequestLog, error)
}
