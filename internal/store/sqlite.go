// Package store persists accounts, rules, and audit logs in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: serializes writers, which SQLite wants anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT NOT NULL UNIQUE,
		api_key    TEXT NOT NULL UNIQUE,
		role       TEXT NOT NULL,
		credits    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_key ON accounts(api_key);

	CREATE TABLE IF NOT EXISTS rules (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern     TEXT NOT NULL,
		action      TEXT NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id  INTEGER NOT NULL REFERENCES accounts(id),
		command     TEXT NOT NULL,
		status      TEXT NOT NULL,
		response    TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_logs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) AccountByKey(ctx context.Context, apiKey string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, api_key, role, credits FROM accounts WHERE api_key = ?`, apiKey,
	))
}

func (s *SQLiteStore) AccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, api_key, role, credits FROM accounts WHERE id = ?`, id,
	))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Username, &a.APIKey, &a.Role, &a.Credits)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, username, apiKey string, role domain.Role) (*domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE username = ?`, username,
	).Scan(&exists)
	if err == nil {
		return nil, domain.ErrUsernameTaken
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (username, api_key, role, credits) VALUES (?, ?, ?, ?)`,
		username, apiKey, role, domain.StartingCredits,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Account{
		ID:       id,
		Username: username,
		APIKey:   apiKey,
		Role:     role,
		Credits:  domain.StartingCredits,
	}, nil
}

func (s *SQLiteStore) AdminExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = ?`, domain.RoleAdmin,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateRule(ctx context.Context, pattern string, action domain.RuleAction, description string) (*domain.Rule, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (pattern, action, description) VALUES (?, ?, ?)`,
		pattern, action, description,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Rule{
		ID:          id,
		Pattern:     pattern,
		Action:      action,
		Description: description,
	}, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, action, COALESCE(description, '') FROM rules ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Action, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommitDecision applies the debit (if any) and the audit insert in one
// transaction. The decrement is guarded by "credits > 0" so a concurrent
// request that already drained the balance makes this transaction roll back
// instead of driving the balance negative. The advisory balance read the
// orchestrator did earlier is not trusted here.
func (s *SQLiteStore) CommitDecision(ctx context.Context, rec domain.DecisionRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if rec.Debit {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET credits = credits - 1 WHERE id = ? AND credits > 0`,
			rec.AccountID,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, domain.ErrInsufficientCredits
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_logs (account_id, command, status, response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Command, rec.Status, rec.Response, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	// Post-commit balance read is part of the response contract.
	var credits int64
	err = s.db.QueryRowContext(ctx,
		`SELECT credits FROM accounts WHERE id = ?`, rec.AccountID,
	).Scan(&credits)
	if err != nil {
		return 0, err
	}
	return credits, nil
}

func (s *SQLiteStore) RecentAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT audit_logs.id, audit_logs.account_id, accounts.username,
		        audit_logs.command, audit_logs.status, COALESCE(audit_logs.response, ''),
		        audit_logs.created_at
		 FROM audit_logs
		 JOIN accounts ON audit_logs.account_id = accounts.id
		 ORDER BY audit_logs.created_at DESC, audit_logs.id DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Username,
			&l.Command, &l.Status, &l.Response, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
