// Package gateway orchestrates the authorization decision for every request:
// authenticate, gate on balance, evaluate rules, debit-or-reject, record.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
	"github.com/SomaPrasanth/command-gateway-backend/internal/metrics"
	"github.com/SomaPrasanth/command-gateway-backend/internal/rules"
)

// Gateway composes the store and rule engine. It is the only caller of both.
type Gateway struct {
	store  domain.Store
	engine *rules.Engine
	logger *slog.Logger
}

type Config struct {
	Store  domain.Store
	Engine *rules.Engine
	Logger *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine == nil {
		cfg.Engine = rules.NewEngine(cfg.Logger)
	}
	return &Gateway{
		store:  cfg.Store,
		engine: cfg.Engine,
		logger: cfg.Logger,
	}
}

// ExecuteResult is the response for an execute request. CreditsRemaining is
// the post-commit balance, re-read after the transaction.
type ExecuteResult struct {
	Status           domain.CommandStatus `json:"status"`
	Message          string               `json:"message"`
	CreditsRemaining int64                `json:"credits_remaining"`
}

// Profile is the caller-visible view of an account.
type Profile struct {
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	Credits  int64       `json:"credits"`
}

// ProvisionedAccount is returned once from CreateAccount; the generated key
// is never recoverable afterwards.
type ProvisionedAccount struct {
	Username string      `json:"username"`
	APIKey   string      `json:"api_key"`
	Role     domain.Role `json:"role"`
	Credits  int64       `json:"credits"`
}

// ExecuteCommand runs the decision pipeline for one command.
//
// Callers with a zero balance are rejected before any rule runs and leave no
// audit row. Every request that reaches evaluation produces exactly one audit
// row; an allowed decision debits one credit in the same transaction as its
// audit insert, and a transaction that cannot debit rolls back entirely.
func (g *Gateway) ExecuteCommand(ctx context.Context, apiKey, command string) (*ExecuteResult, error) {
	account, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if account.Credits <= 0 {
		metrics.InsufficientCredits.Inc()
		return nil, fmt.Errorf("account %d: %w", account.ID, domain.ErrInsufficientCredits)
	}

	ruleset, err := g.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	decision := g.engine.Evaluate(command, ruleset)

	status := domain.StatusRejected
	message := "Blocked by rule: " + decision.MatchedPattern
	if decision.Action == domain.ActionAllow {
		status = domain.StatusExecuted
		message = "Command executed successfully"
	}

	credits, err := g.store.CommitDecision(ctx, domain.DecisionRecord{
		AccountID: account.ID,
		Command:   command,
		Status:    status,
		Response:  message,
		Debit:     status == domain.StatusExecuted,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			// A concurrent request drained the balance between the advisory
			// read above and commit time. Nothing persisted.
			metrics.InsufficientCredits.Inc()
			return nil, fmt.Errorf("account %d: %w", account.ID, domain.ErrInsufficientCredits)
		}
		return nil, fmt.Errorf("commit decision: %w", err)
	}

	switch status {
	case domain.StatusExecuted:
		metrics.CommandsExecuted.Inc()
	case domain.StatusRejected:
		metrics.CommandsRejected.Inc()
		g.logger.Info("command blocked",
			"account", account.Username,
			"rule_id", decision.RuleID,
			"pattern", decision.MatchedPattern,
		)
	}

	return &ExecuteResult{
		Status:           status,
		Message:          message,
		CreditsRemaining: credits,
	}, nil
}

// CreateRule validates and appends a rule. Admin only.
func (g *Gateway) CreateRule(ctx context.Context, apiKey, pattern string, action domain.RuleAction, description string) (*domain.Rule, error) {
	account, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !account.Role.Can(domain.CapManageRules) {
		return nil, domain.ErrForbidden
	}

	if !action.Valid() {
		return nil, fmt.Errorf("%w: action must be %q or %q",
			domain.ErrInvalidInput, domain.ActionAllow, domain.ActionBlock)
	}
	if err := rules.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	rule, err := g.store.CreateRule(ctx, pattern, action, description)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	g.logger.Info("rule created",
		"rule_id", rule.ID,
		"action", rule.Action,
		"by", account.Username,
	)
	return rule, nil
}

// GetProfile returns the caller's own account view.
func (g *Gateway) GetProfile(ctx context.Context, apiKey string) (*Profile, error) {
	account, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Username: account.Username,
		Role:     account.Role,
		Credits:  account.Credits,
	}, nil
}

// ListAuditLogs returns recent decisions joined with usernames. Admin only.
func (g *Gateway) ListAuditLogs(ctx context.Context, apiKey string, limit int) ([]domain.AuditLog, error) {
	account, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !account.Role.Can(domain.CapViewAuditLogs) {
		return nil, domain.ErrForbidden
	}
	return g.store.RecentAuditLogs(ctx, limit)
}

// CreateAccount provisions a new account with a generated credential and the
// fixed starting balance. Admin only.
func (g *Gateway) CreateAccount(ctx context.Context, apiKey, username string, role domain.Role) (*ProvisionedAccount, error) {
	account, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !account.Role.Can(domain.CapManageAccounts) {
		return nil, domain.ErrForbidden
	}
	return provision(ctx, g.store, username, role)
}

// Provision creates an account directly against the store, bypassing
// authentication. Used by the bootstrap CLI to create the first admin.
func Provision(ctx context.Context, store domain.Store, username string, role domain.Role) (*ProvisionedAccount, error) {
	return provision(ctx, store, username, role)
}

func provision(ctx context.Context, store domain.Store, username string, role domain.Role) (*ProvisionedAccount, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role must be %q or %q",
			domain.ErrInvalidInput, domain.RoleAdmin, domain.RoleStandard)
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	created, err := store.CreateAccount(ctx, username, key, role)
	if err != nil {
		return nil, err
	}

	return &ProvisionedAccount{
		Username: created.Username,
		APIKey:   created.APIKey,
		Role:     created.Role,
		Credits:  created.Credits,
	}, nil
}

func (g *Gateway) authenticate(ctx context.Context, apiKey string) (*domain.Account, error) {
	if apiKey == "" {
		metrics.AuthFailures.Inc()
		return nil, domain.ErrUnauthorized
	}
	account, err := g.store.AccountByKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.AuthFailures.Inc()
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

// generateAPIKey returns a URL-safe credential with 24 bytes of entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
