package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// dialect captures the per-driver differences of the schema and queries.
type dialect struct {
	name     string
	serialPK string
	userKey  string
	upsert   string
	indexes  []string
	dollar   bool // $1 placeholders instead of ?
}

var dialects = map[string]dialect{
	"postgres": {
		name:     "postgres",
		serialPK: "BIGSERIAL PRIMARY KEY",
		userKey:  "VARCHAR(255)",
		upsert: `INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages (user_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_user ON chunks (user_id)`,
		},
		dollar: true,
	},
	"sqlite3": {
		name:     "sqlite3",
		serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
		userKey:  "TEXT",
		upsert: `INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages (user_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_user ON chunks (user_id)`,
		},
	},
	"mysql": {
		name:     "mysql",
		serialPK: "BIGINT AUTO_INCREMENT PRIMARY KEY",
		userKey:  "VARCHAR(255)",
		upsert: `INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
	},
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			user_id %s PRIMARY KEY,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.userKey),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id %s,
			user_id %s NOT NULL,
			text TEXT NOT NULL,
			query_type VARCHAR(32) NOT NULL,
			created_at BIGINT NOT NULL
		)`, d.serialPK, d.userKey),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id VARCHAR(64) PRIMARY KEY,
			user_id %s NOT NULL,
			source VARCHAR(255) NOT NULL,
			text TEXT NOT NULL,
			keywords TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`, d.userKey),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_records (
			id %s,
			user_id %s NOT NULL,
			provider VARCHAR(64) NOT NULL,
			tokens INTEGER NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL
		)`, d.serialPK, d.userKey),
	}
	return append(stmts, d.indexes...)
}

// SQLStore is a Store over database/sql. Timestamps are stored as unix
// nanoseconds so every driver round-trips them identically.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to driver (postgres, sqlite3 or mysql) and creates the
// schema if it does not exist.
func OpenSQL(ctx context.Context, driver, dsn string, maxOpenConns int) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func (s *SQLStore) HasConversation(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM conversations WHERE user_id = ?`), userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup conversation: %w", err)
	}
	return true, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, userID string, msg Message) error {
	now := s.now().UnixNano()
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(s.dialect.upsert), userID, now, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO messages (user_id, text, query_type, created_at) VALUES (?, ?, ?, ?)`),
		userID, msg.Text, msg.QueryType, ts.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) Conversation(ctx context.Context, userID string) (*Conversation, error) {
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT created_at, updated_at FROM conversations WHERE user_id = ?`), userID,
	).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT text, query_type, created_at FROM messages WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	conv := &Conversation{
		UserID:    userID,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}
	for rows.Next() {
		var msg Message
		var ts int64
		if err := rows.Scan(&msg.Text, &msg.QueryType, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, ts).UTC()
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, rows.Err()
}

func (s *SQLStore) DeleteConversation(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"messages", "chunks", "conversations"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save chunks: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO chunks (id, user_id, source, text, keywords, created_at) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		created := c.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.UserID, c.Source, c.Text,
			strings.Join(c.Keywords, " "), created.UnixNano()); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Chunks(ctx context.Context, userID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, source, text, keywords, created_at FROM chunks WHERE user_id = ? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c := Chunk{UserID: userID}
		var keywords string
		var created int64
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &keywords, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Keywords = strings.Fields(keywords)
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordUsage(ctx context.Context, rec UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO usage_records (user_id, provider, tokens, cost, created_at) VALUES (?, ?, ?, ?, ?)`),
		rec.UserID, rec.Provider, rec.Tokens, rec.Cost, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
