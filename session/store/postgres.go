package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/toolchat/config"
	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/session"
)

// PostgresStore implements transcript storage using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration. DSN, when set,
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns the local development configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "toolchat",
		SSLMode: "disable",
	}
}

// ConnString returns the connection string passed to the driver.
func (c *PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c *PostgresConfig) validate() error {
	if c.DSN != "" {
		return nil
	}
	return config.NewValidator().
		RequireNonEmpty("host", c.Host).
		ValidateRange("port", c.Port, 1, 65535).
		RequireNonEmpty("dbname", c.DBName).
		ValidateOneOf("sslmode", c.SSLMode, "disable", "require", "verify-ca", "verify-full").
		Error()
}

// NewPostgresStore connects to PostgreSQL and creates the transcripts table
// when missing.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, &errorskg.ConfigError{Subject: "postgres", Err: err}
	}

	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id VARCHAR(255) PRIMARY KEY,
		model VARCHAR(255) NOT NULL DEFAULT '',
		messages JSONB NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save upserts a transcript.
func (s *PostgresStore) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record cannot be nil: %w", errorskg.ErrInvalidInput)
	}

	messagesJSON, err := json.Marshal(record.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	metadataJSON := []byte("{}")
	if len(record.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(record.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = updated
	}

	query := `
	INSERT INTO transcripts (id, model, messages, metadata, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		model = EXCLUDED.model,
		messages = EXCLUDED.messages,
		metadata = EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.Model, string(messagesJSON), string(metadataJSON), created, updated)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load returns the transcript stored under id.
func (s *PostgresStore) Load(ctx context.Context, id string) (*session.Record, error) {
	var (
		rec          session.Record
		messagesJSON []byte
		metadataJSON []byte
	)
	query := `SELECT id, model, messages, metadata, created_at, updated_at FROM transcripts WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Model, &messagesJSON, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var messages []*message.Message
	if err := json.Unmarshal(messagesJSON, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	rec.Messages = messages
	if len(metadataJSON) > 0 && string(metadataJSON) != "{}" {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// Delete removes a transcript.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM transcripts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, errorskg.ErrNotFound)
	}
	return nil
}

// List returns transcript ids, most recently updated first.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM transcripts ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored transcripts.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// Exists reports whether id is stored.
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM transcripts WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return exists, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks if the PostgreSQL connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
