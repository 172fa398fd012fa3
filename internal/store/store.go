// Package store persists tasks and credentials in PostgreSQL. It is the
// only shared state between the API-facing process and the workers, so
// every status transition is enforced here with conditional updates.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
)

var (
	// ErrNotFound is returned when a task or credential does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned on unique-key violations.
	ErrAlreadyExists = errors.New("record already exists")
)

// Task is the durable row behind a task_id. Status transitions are
// monotonic: PENDING -> PROCESSING -> {SUCCESS, FAILURE}, enforced by the
// conditional updates below.
type Task struct {
	TaskID         string
	OperationType  types.OperationType
	Parameters     types.Parameters
	Fingerprint    string
	Status         types.TaskStatus
	Result         json.RawMessage
	ResultSize     int
	ExecutionTime  float64
	ErrorMessage   string
	Cached         bool
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// View projects a Task into its API representation.
func (t *Task) View() types.Task {
	return types.Task{
		TaskID:        t.TaskID,
		OperationType: t.OperationType,
		Parameters:    t.Parameters,
		Status:        t.Status,
		Result:        t.Result,
		ResultSize:    t.ResultSize,
		ExecutionTime: t.ExecutionTime,
		ErrorMessage:  t.ErrorMessage,
		Cached:        t.Cached,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

// Credential is the durable row behind a credential_name. The secret is
// only ever present here as ciphertext.
type Credential struct {
	ID                int64
	Name              string
	Username          string
	EncryptedSecret   string
	Salt              string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAttempt  *time.Time
	LoginSuccessCount int
	LoginFailureCount int
}

// View projects a Credential into its secret-free API representation.
func (c *Credential) View() types.CredentialView {
	return types.CredentialView{
		Name:              c.Name,
		Username:          c.Username,
		IsActive:          c.IsActive,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		LastLoginAttempt:  c.LastLoginAttempt,
		LoginSuccessCount: c.LoginSuccessCount,
		LoginFailureCount: c.LoginFailureCount,
	}
}

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed task and credential repository.
type Store struct {
	pool DBPool
}

// New verifies the connection and returns a Store.
func New(ctx context.Context, pool DBPool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const taskColumns = `task_id, operation_type, parameters, fingerprint, status,
	result, result_size, execution_time_seconds, error_message, cached,
	lease_expires_at, created_at, completed_at`

func scanTask(row pgx.Row) (*Task, error) {
	t := &Task{}
	var params []byte
	err := row.Scan(&t.TaskID, &t.OperationType, &params, &t.Fingerprint,
		&t.Status, &t.Result, &t.ResultSize, &t.ExecutionTime,
		&t.ErrorMessage, &t.Cached, &t.LeaseExpiresAt, &t.CreatedAt,
		&t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if err := json.Unmarshal(params, &t.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode task parameters: %w", err)
	}
	return t, nil
}

// InsertTask records a new task. Terminal tasks (synthesized cache hits)
// are inserted with completed_at already set.
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode task parameters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scraping_tasks (task_id, operation_type, parameters,
			fingerprint, status, result, result_size, execution_time_seconds,
			error_message, cached, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.TaskID, t.OperationType, params, t.Fingerprint, t.Status,
		t.Result, t.ResultSize, t.ExecutionTime, t.ErrorMessage, t.Cached,
		t.CreatedAt, t.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask returns the task behind a task_id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM scraping_tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

// FindActiveByFingerprint returns the non-terminal task with the given
// fingerprint, if one exists. This backs the single-flight check across
// process restarts.
func (s *Store) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM scraping_tasks
		 WHERE fingerprint = $1 AND status IN ('PENDING', 'PROCESSING')
		 ORDER BY created_at LIMIT 1`, fingerprint)
	return scanTask(row)
}

// ClaimTask moves a PENDING task to PROCESSING under a lease. Returns false
// if the task was not claimable (already claimed, reaped or unknown).
func (s *Store) ClaimTask(ctx context.Context, taskID string, leaseUntil time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scraping_tasks SET status = 'PROCESSING', lease_expires_at = $2
		WHERE task_id = $1 AND status = 'PENDING'`,
		taskID, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteTask moves a PROCESSING task to a terminal status, setting
// completed_at exactly once. Returns false if the task was not in
// PROCESSING (for example, already reaped).
func (s *Store) CompleteTask(ctx context.Context, taskID string, status types.TaskStatus, result json.RawMessage, resultSize int, executionTime float64, errorMessage string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot complete task %s with non-terminal status %s", taskID, status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scraping_tasks SET status = $2, result = $3, result_size = $4,
			execution_time_seconds = $5, error_message = $6,
			lease_expires_at = NULL, completed_at = now()
		WHERE task_id = $1 AND status = 'PROCESSING'`,
		taskID, status, result, resultSize, executionTime, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReapExpiredLeases fails every PROCESSING task whose lease has expired and
// returns the affected task IDs. Workers are expected to die under deploy
// rotations; this keeps their tasks from staying PROCESSING forever.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time, message string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scraping_tasks SET status = 'FAILURE', error_message = $2,
			lease_expires_at = NULL, completed_at = now()
		WHERE status = 'PROCESSING' AND lease_expires_at < $1
		RETURNING task_id`, now, message)
	if err != nil {
		return nil, fmt.Errorf("failed to reap expired leases: %w", err)
	}
	defer rows.Close()

	var reaped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reaped task id: %w", err)
		}
		reaped = append(reaped, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reaped tasks: %w", err)
	}
	return reaped, nil
}

const credentialColumns = `id, credential_name, username, encrypted_secret,
	salt, is_active, created_at, updated_at, last_login_attempt,
	login_success_count, login_failure_count`

func scanCredential(row pgx.Row) (*Credential, error) {
	c := &Credential{}
	err := row.Scan(&c.ID, &c.Name, &c.Username, &c.EncryptedSecret, &c.Salt,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt, &c.LastLoginAttempt,
		&c.LoginSuccessCount, &c.LoginFailureCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	return c, nil
}

// CreateCredential inserts a new credential and returns its id. The unique
// index on credential_name makes duplicate registration race-free.
func (s *Store) CreateCredential(ctx context.Context, c *Credential) (int64, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO twitter_credentials (credential_name, username,
			encrypted_secret, salt, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now(), now())
		RETURNING id`,
		c.Name, c.Username, c.EncryptedSecret, c.Salt)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to insert credential: %w", err)
	}
	return id, nil
}

// GetCredentialByName returns the credential stored under a name.
func (s *Store) GetCredentialByName(ctx context.Context, name string) (*Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM twitter_credentials WHERE credential_name = $1`, name)
	return scanCredential(row)
}

// ListCredentials returns all credentials, active first.
func (s *Store) ListCredentials(ctx context.Context) ([]*Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM twitter_credentials
		 ORDER BY is_active DESC, credential_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	return out, nil
}

// UpdateCredentialSecret replaces the ciphertext and salt on rotation.
func (s *Store) UpdateCredentialSecret(ctx context.Context, name, encryptedSecret, salt string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE twitter_credentials SET encrypted_secret = $2, salt = $3,
			updated_at = now()
		WHERE credential_name = $1`,
		name, encryptedSecret, salt)
	if err != nil {
		return fmt.Errorf("failed to update credential secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCredentialActive soft-deletes or reactivates a credential. Rows are
// never hard-deleted while task audit records may reference them.
func (s *Store) SetCredentialActive(ctx context.Context, name string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE twitter_credentials SET is_active = $2, updated_at = now()
		WHERE credential_name = $1`,
		name, active)
	if err != nil {
		return fmt.Errorf("failed to update credential state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginOutcome atomically bumps the matching login counter in SQL.
// Counters are concurrent-writer safe because the increment happens in the
// database, not read-modify-write in the application.
func (s *Store) RecordLoginOutcome(ctx context.Context, name string, success bool) error {
	column := "login_failure_count"
	if success {
		column = "login_success_count"
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE twitter_credentials SET `+column+` = `+column+` + 1,
			last_login_attempt = now(), updated_at = now()
		WHERE credential_name = $1`,
		name)
	if err != nil {
		return fmt.Errorf("failed to record login outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LogSchema logs a reminder when the schema has not been applied yet. Schema
// management itself is deployment territory (see schema.sql).
func (s *Store) LogSchema(ctx context.Context) {
	var n int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_name IN ('scraping_tasks', 'twitter_credentials')`)
	if err := row.Scan(&n); err != nil || n < 2 {
		logrus.Warn("Database schema missing or incomplete; apply schema.sql before serving traffic")
	}
}
