package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// DefaultLimit is the number of entries returned when no limit is given
const DefaultLimit = 50

// Recorder receives action outcomes. Implementations must not fail the
// caller's action.
type Recorder interface {
	Record(ctx context.Context, hostname, action string, success bool, message string)
	RecordTerminal(ctx context.Context, rec *TerminalRecord)
}

// Store persists action history in SQLite
type Store struct {
	db *bun.DB
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithDebug enables query logging for debugging
func WithDebug(enabled bool) Option {
	return func(s *Store) {
		if enabled {
			s.db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
			))
			log.Info().Msg("History query logging enabled")
		}
	}
}

// New opens the history database at dbPath and creates its tables
func New(dbPath string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: would be a separate database
	if dbPath == ":memory:" {
		sqldb.SetMaxOpenConns(1)
	}

	s := &Store{db: bun.NewDB(sqldb, sqlitedialect.New())}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.Migrate(context.Background()); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("History database initialized")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes if they don't exist
func (s *Store) Migrate(ctx context.Context) error {
	models := []interface{}{
		(*Entry)(nil),
		(*TerminalRecord)(nil),
	}

	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_action_history_hostname ON action_history(hostname)",
		"CREATE INDEX IF NOT EXISTS idx_action_history_created_at ON action_history(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_terminal_sessions_hostname ON terminal_sessions(hostname)",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("Failed to create index")
		}
	}

	return nil
}

// Add stores an entry, assigning an id and timestamp when missing
func (s *Store) Add(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := s.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// AddTerminal stores the final record of a terminal session
func (s *Store) AddTerminal(ctx context.Context, rec *TerminalRecord) error {
	if _, err := s.db.NewInsert().Model(rec).On("CONFLICT (session_id) DO UPDATE").Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert terminal record: %w", err)
	}
	return nil
}

// Record implements Recorder. Failures are logged only.
func (s *Store) Record(ctx context.Context, hostname, action string, success bool, message string) {
	entry := &Entry{
		Hostname: hostname,
		Action:   action,
		Success:  success,
		Message:  message,
	}
	if err := s.Add(ctx, entry); err != nil {
		log.Error().Err(err).Str("hostname", hostname).Str("action", action).Msg("Failed to record action history")
	}
}

// RecordTerminal implements Recorder. Failures are logged only.
func (s *Store) RecordTerminal(ctx context.Context, rec *TerminalRecord) {
	if err := s.AddTerminal(ctx, rec); err != nil {
		log.Error().Err(err).Str("session_id", rec.SessionID).Msg("Failed to record terminal session")
	}
}

// List returns the newest entries first. An empty hostname matches all
// hosts; limit <= 0 means DefaultLimit.
func (s *Store) List(ctx context.Context, hostname string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	entries := []Entry{}
	query := s.db.NewSelect().
		Model(&entries).
		Order("created_at DESC").
		Limit(limit)

	if hostname != "" {
		query = query.Where("hostname = ?", hostname)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// ListTerminals returns recorded terminal sessions, newest first
func (s *Store) ListTerminals(ctx context.Context, hostname string, limit int) ([]TerminalRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	records := []TerminalRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Order("closed_at DESC").
		Limit(limit)

	if hostname != "" {
		query = query.Where("hostname = ?", hostname)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list terminal sessions: %w", err)
	}
	return records, nil
}

// Nop discards everything. It is used when history is disabled.
type Nop struct{}

func (Nop) Record(context.Context, string, string, bool, string) {}
func (Nop) RecordTerminal(context.Context, *TerminalRecord)      {}
