package store

import "time"

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// RedactedRecord is one persisted redaction
type RedactedRecord struct {
	ID           int64     `db:"id" json:"id"`
	RecordID     string    `db:"record_id" json:"record_id"`
	RedactedData string    `db:"redacted_data" json:"redacted_data"`
	IsPII        bool      `db:"is_pii" json:"is_pii"`
	PayloadHash  string    `db:"payload_hash" json:"payload_hash"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Stats represents table statistics
type Stats struct {
	TotalRecords int64 `db:"total" json:"total_records"`
	WithPII      int64 `db:"with_pii" json:"with_pii"`
	WithoutPII   int64 `db:"without_pii" json:"without_pii"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}
