package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adt-bridge/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed MessageStore and AttemptStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	clinic_id     TEXT NOT NULL,
	patient_id    TEXT NOT NULL,
	event_kind    TEXT NOT NULL,
	fhir_payload  BYTEA,
	hl7_payload   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	resend_count  INT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_status_created ON messages (status, created_at);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id               BIGSERIAL PRIMARY KEY,
	message_id       TEXT NOT NULL,
	attempted_at     TIMESTAMPTZ NOT NULL,
	success          BOOLEAN NOT NULL,
	ack_kind         TEXT NOT NULL,
	error_detail     TEXT NOT NULL DEFAULT '',
	response_time_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_attempts_attempted_at ON delivery_attempts (attempted_at);
`

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Save(ctx context.Context, record *MessageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, clinic_id, patient_id, event_kind, fhir_payload, hl7_payload, status, resend_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			clinic_id = EXCLUDED.clinic_id,
			patient_id = EXCLUDED.patient_id,
			event_kind = EXCLUDED.event_kind,
			fhir_payload = EXCLUDED.fhir_payload,
			hl7_payload = EXCLUDED.hl7_payload,
			status = EXCLUDED.status,
			updated_at = now()`,
		record.ID, record.ClinicID, record.PatientID, record.EventKind,
		record.FHIRPayload, record.HL7Payload, record.Status, record.ResendCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetComposed(ctx context.Context, id, hl7 string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET hl7_payload = $2, updated_at = now() WHERE id = $1`, id, hl7)
	if err != nil {
		return fmt.Errorf("failed to set composed message for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementResend(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET resend_count = resend_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment resend count for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*MessageRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, clinic_id, patient_id, event_kind, fhir_payload, hl7_payload,
		       status, resend_count, created_at, updated_at
		FROM messages WHERE id = $1`, id)

	record, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message %s: %w", id, err)
	}
	return record, nil
}

func (s *PostgresStore) Query(ctx context.Context, filter QueryFilter) ([]*MessageRecord, error) {
	query := `
		SELECT id, clinic_id, patient_id, event_kind, fhir_payload, hl7_payload,
		       status, resend_count, created_at, updated_at
		FROM messages WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ClinicID != "" {
		args = append(args, filter.ClinicID)
		query += fmt.Sprintf(" AND clinic_id = $%d", len(args))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		record, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context, status models.MessageStatus, olderThan time.Time) (int, error) {
	query := `SELECT count(*) FROM messages WHERE status = $1`
	args := []any{status}
	if !olderThan.IsZero() {
		args = append(args, olderThan)
		query += ` AND created_at < $2`
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Record(ctx context.Context, attempt models.DeliveryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (message_id, attempted_at, success, ack_kind, error_detail, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.MessageID, attempt.AttemptedAt, attempt.Success,
		attempt.AckKind, attempt.ErrorDetail, attempt.ResponseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt for %s: %w", attempt.MessageID, err)
	}
	return nil
}

func (s *PostgresStore) Failures(ctx context.Context, since time.Time) ([]models.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, attempted_at, success, ack_kind, error_detail, response_time_ms
		FROM delivery_attempts
		WHERE success = false AND attempted_at >= $1
		ORDER BY attempted_at`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery failures: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryAttempt
	for rows.Next() {
		var attempt models.DeliveryAttempt
		if err := rows.Scan(&attempt.MessageID, &attempt.AttemptedAt, &attempt.Success,
			&attempt.AckKind, &attempt.ErrorDetail, &attempt.ResponseTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*MessageRecord, error) {
	var record MessageRecord
	err := row.Scan(&record.ID, &record.ClinicID, &record.PatientID, &record.EventKind,
		&record.FHIRPayload, &record.HL7Payload, &record.Status, &record.ResendCount,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
