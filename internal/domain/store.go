package domain

import "context"

// Store is the persistence boundary for accounts, rules, and audit logs.
// Implementations must back CommitDecision with a single atomic transaction.
type Store interface {
	// AccountByKey resolves a credential to its account. Returns ErrNotFound
	// when no account holds the key; this is the authentication failure path.
	AccountByKey(ctx context.Context, apiKey string) (*Account, error)

	// AccountByID returns the account with the given ID, or ErrNotFound.
	AccountByID(ctx context.Context, id int64) (*Account, error)

	// CreateAccount persists a new account with StartingCredits. Returns
	// ErrUsernameTaken if the username exists.
	CreateAccount(ctx context.Context, username, apiKey string, role Role) (*Account, error)

	// AdminExists reports whether any admin account has been provisioned.
	AdminExists(ctx context.Context) (bool, error)

	// CreateRule appends a rule. The caller validates the pattern first.
	CreateRule(ctx context.Context, pattern string, action RuleAction, description string) (*Rule, error)

	// ListRules returns all rules in ascending ID order.
	ListRules(ctx context.Context) ([]Rule, error)

	// CommitDecision writes the audit row and, when rec.Debit is set, the
	// credit decrement in one transaction. The decrement is re-validated
	// inside the transaction: if the balance is already exhausted the whole
	// unit rolls back with ErrInsufficientCredits and no audit row persists.
	// Returns the account's post-commit balance.
	CommitDecision(ctx context.Context, rec DecisionRecord) (creditsRemaining int64, err error)

	// RecentAuditLogs returns up to limit entries joined with the account
	// username, newest first.
	RecentAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)

	Close() error
}
