package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/etl"
)

// insertColumns is the column count of one inserted row
const insertColumns = 4

// maxRowsPerStatement keeps a multi-row insert under the Postgres bind parameter limit
const maxRowsPerStatement = 1000

const schema = `
	CREATE TABLE IF NOT EXISTS redacted_records (
		id BIGSERIAL PRIMARY KEY,
		record_id TEXT NOT NULL,
		redacted_data TEXT NOT NULL,
		is_pii BOOLEAN NOT NULL,
		payload_hash CHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (record_id, payload_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_redacted_records_is_pii ON redacted_records (is_pii)`

// Store persists redacted records to PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and makes sure the table exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Record store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// EnsureSchema creates the redacted_records table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Persist stores a written batch. It makes Store usable as a pipeline sink.
func (s *Store) Persist(ctx context.Context, outcomes []etl.Outcome) error {
	records := make([]RedactedRecord, len(outcomes))
	for i, o := range outcomes {
		records[i] = RedactedRecord{
			RecordID:     o.Row.RecordID,
			RedactedData: o.Row.RedactedDataJSON,
			IsPII:        o.ContainsPII,
			PayloadHash:  o.PayloadHash,
		}
	}
	_, err := s.BatchInsert(ctx, records)
	return err
}

// BatchInsert adds records in one transaction. Rows already stored for the
// same record id and payload are skipped.
func (s *Store) BatchInsert(ctx context.Context, records []RedactedRecord) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for offset := 0; offset < len(records); offset += maxRowsPerStatement {
		chunk := records[offset:min(offset+maxRowsPerStatement, len(records))]

		args := make([]interface{}, 0, len(chunk)*insertColumns)
		for _, r := range chunk {
			args = append(args, r.RecordID, r.RedactedData, r.IsPII, r.PayloadHash)
		}

		res, err := tx.ExecContext(ctx, buildInsertQuery(len(chunk)), args...)
		if err != nil {
			s.logger.Error("Batch insert failed", zap.Error(err))
			return result, fmt.Errorf("batch insert failed: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Could not get rows affected", zap.Error(err))
			inserted = int64(len(chunk))
		}
		result.Inserted += inserted
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit batch: %w", err)
	}

	result.Duplicates = int64(len(records)) - result.Inserted
	result.Duration = time.Since(start)

	s.logger.Debug("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// FindByRecordID returns every stored redaction of recordID, newest first
func (s *Store) FindByRecordID(ctx context.Context, recordID string) ([]RedactedRecord, error) {
	var records []RedactedRecord
	query := `
		SELECT id, record_id, redacted_data, is_pii, payload_hash, created_at
		FROM redacted_records
		WHERE record_id = $1
		ORDER BY created_at DESC, id DESC`

	if err := s.db.SelectContext(ctx, &records, query, recordID); err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	return records, nil
}

// GetStats returns record counts
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN is_pii THEN 1 END) AS with_pii,
			COUNT(CASE WHEN NOT is_pii THEN 1 END) AS without_pii
		FROM redacted_records`

	if err := s.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get record stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// buildInsertQuery returns a multi-row insert for rows records
func buildInsertQuery(rows int) string {
	values := make([]string, rows)
	for i := range values {
		n := i * insertColumns
		values[i] = fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
	}
	return fmt.Sprintf(`
		INSERT INTO redacted_records (record_id, redacted_data, is_pii, payload_hash)
		VALUES %s
		ON CONFLICT (record_id, payload_hash) DO NOTHING`,
		strings.Join(values, ","))
}

// maskDatabaseURL hides the password of a database URL for logging
func maskDatabaseURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return url
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return url
	}
	return scheme + "://" + user + ":***" + rest[at:]
}
