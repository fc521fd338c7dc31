package postgres

import (
	"context"
	"fmt"

	"github.com/biava/llmgate/internal/repository"
)

// RequestLogRepo implements repository.RequestLogRepository
type RequestLogRepo struct {
	db *DB
}

// NewRequestLogRepo creates a new request log repository
func NewRequestLogRepo(db *DB) *RequestLogRepo {
	return &RequestLogRepo{db: db}
}

// Create inserts one finished request record
func (r *RequestLogRepo) Create(ctx context.Context, log *repository.RequestLog) error {
	query := `
		INSERT INTO request_logs (id, client_id, model, status, error_message, message_count, prompt_chars, content_chars, reasoning_chars, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		log.ID, log.ClientID, log.Model, log.Status, log.ErrorMessage,
		log.MessageCount, log.PromptChars, log.ContentChars, log.ReasoningChars,
		log.CreatedAt, log.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}
	return nil
}

// ListRecent returns the most recent records, newest first
func (r *RequestLogRepo) ListRecent(ctx context.Context, limit int) ([]*repository.RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, client_id, model, status, error_message, message_count, prompt_chars, content_chars, reasoning_chars, created_at, completed_at
		FROM request_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list request logs: %w", err)
	}
	defer rows.Close()

	var logs []*repository.RequestLog
	for rows.Next() {
		var log repository.RequestLog
		if err := rows.Scan(
			&log.ID, &log.ClientID, &log.Model, &log.Status, &log.ErrorMessage,
			&log.MessageCount, &log.PromptChars, &log.ContentChars, &log.ReasoningChars,
			&log.CreatedAt, &log.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request logs: %w", err)
	}

	return logs, nil
}
