// Package bootstrap reads the Antigravity IDE's local credential state as a
// convenience seed for cmd/accounts: if a user already signed in through the
// IDE, onboarding can offer to reuse that session instead of running the full
// browser OAuth flow from scratch. It never writes to the IDE's database and
// it is not consulted by the running proxy server, only by the account CLI.
package bootstrap

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"

	_ "modernc.org/sqlite"
)

// IDESession is the subset of Antigravity's stored auth state relevant to
// seeding a new account: enough to resolve an identity, never a long-lived
// CodeAssist credential by itself.
type IDESession struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ReadIDESession opens the Antigravity IDE's state.vscdb read-only and
// returns its last-known auth status row. dbPath defaults to
// config.AntigravityDBPath when empty.
func ReadIDESession(dbPath string) (*IDESession, error) {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("antigravity IDE database not found at %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open antigravity database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status stored in antigravity database")
	}
	if err != nil {
		return nil, fmt.Errorf("query antigravity database: %w", err)
	}

	var session IDESession
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return nil, fmt.Errorf("parse antigravity auth status: %w", err)
	}
	if session.Email == "" {
		return nil, fmt.Errorf("antigravity auth status missing email")
	}
	return &session, nil
}

// IsIDEDatabaseAccessible reports whether the Antigravity IDE's database
// exists and can be opened, without requiring a valid auth row inside it.
func IsIDEDatabaseAccessible(dbPath string) bool {
	if dbPath == "" {
		dbPath = config.AntigravityDBPath
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		utils.Debug("[bootstrap] failed to open antigravity database: %v", err)
		return false
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		utils.Debug("[bootstrap] failed to ping antigravity database: %v", err)
		return false
	}
	return true
}
