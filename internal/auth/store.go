package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const tokenPrefix = "cda_"

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidToken  = errors.New("invalid token format")
)

// Store persists API tokens in a sqlite database under the data directory
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the token database in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "tokens.db"))
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate token database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME,
		expires_at DATETIME
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Create mints a new token with the given name and scope. expiresAt may be
// nil for a non-expiring token. The returned secret is shown once.
func (s *Store) Create(name, scope string, expiresAt *time.Time) (*Token, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	token := &Token{
		ID:        tokenPrefix + hex.EncodeToString(raw),
		Name:      name,
		Scope:     scope,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	_, err := s.db.Exec(
		`INSERT INTO tokens (id, name, scope, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.Name, token.Scope, token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	return token, nil
}

// Validate checks a presented token and returns its record
func (s *Store) Validate(tokenID string) (*Token, error) {
	if len(tokenID) <= len(tokenPrefix) || tokenID[:len(tokenPrefix)] != tokenPrefix {
		return nil, ErrInvalidToken
	}

	var token Token
	var lastUsed, expires sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, name, scope, created_at, last_used_at, expires_at FROM tokens WHERE id = ?`,
		tokenID,
	).Scan(&token.ID, &token.Name, &token.Scope, &token.CreatedAt, &lastUsed, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}

	if lastUsed.Valid {
		token.LastUsedAt = &lastUsed.Time
	}
	if expires.Valid {
		token.ExpiresAt = &expires.Time
		if time.Now().After(expires.Time) {
			return nil, ErrTokenExpired
		}
	}

	go s.touch(tokenID)
	return &token, nil
}

func (s *Store) touch(tokenID string) {
	_, _ = s.db.Exec(`UPDATE tokens SET last_used_at = ? WHERE id = ?`, time.Now(), tokenID)
}

// List returns all tokens, newest first
func (s *Store) List() ([]*Token, error) {
	rows, err := s.db.Query(
		`SELECT id, name, scope, created_at, last_used_at, expires_at FROM tokens ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		var token Token
		var lastUsed, expires sql.NullTime
		if err := rows.Scan(&token.ID, &token.Name, &token.Scope, &token.CreatedAt, &lastUsed, &expires); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if lastUsed.Valid {
			token.LastUsedAt = &lastUsed.Time
		}
		if expires.Valid {
			token.ExpiresAt = &expires.Time
		}
		tokens = append(tokens, &token)
	}
	return tokens, rows.Err()
}

// Revoke deletes a token
func (s *Store) Revoke(tokenID string) error {
	result, err := s.db.Exec(`DELETE FROM tokens WHERE id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}
