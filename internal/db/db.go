package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"aksara/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite = "sqlite"
	driverLibSQL = "libsql"
)

// Open connects to the conversation database. Local file URLs use the
// embedded SQLite driver; libsql:// and http(s):// URLs go to a remote libSQL
// server.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	driver, dsn, err := buildDSN(cfg.DatabaseURL, cfg.TursoAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == driverSQLite {
		// SQLite allows a single writer; serialize through one connection.
		database.SetMaxOpenConns(1)
	}

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return database, nil
}

// Migrate creates the tables used by the conversation store.
func Migrate(ctx context.Context, database *sql.DB) error {
	for _, statement := range schema {
		if _, err := database.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  system_prompt TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  last_updated TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_last_updated
ON conversations (user_id, last_updated DESC);`,
	`CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  is_user INTEGER NOT NULL,
  text TEXT NOT NULL,
  image_data TEXT NOT NULL DEFAULT '',
  timestamp TEXT NOT NULL,
  FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
ON messages (conversation_id, timestamp);`,
}

func buildDSN(rawURL, authToken string) (string, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", fmt.Errorf("empty database url")
	}

	if rawURL == ":memory:" || strings.HasPrefix(rawURL, "file:") {
		return driverSQLite, rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse database url: %w", err)
	}

	switch parsed.Scheme {
	case "libsql", "http", "https", "ws", "wss":
	default:
		return "", "", fmt.Errorf("unsupported database url scheme %q", parsed.Scheme)
	}

	if parsed.Scheme == "libsql" {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return driverLibSQL, parsed.String(), nil
}
