package gateway

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
	"github.com/SomaPrasanth/command-gateway-backend/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	gw    *Gateway
	store *store.SQLiteStore
	admin *ProvisionedAccount
	user  *ProvisionedAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	admin, err := Provision(ctx, st, "root", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("provision admin: %v", err)
	}
	user, err := Provision(ctx, st, "alice", domain.RoleStandard)
	if err != nil {
		t.Fatalf("provision user: %v", err)
	}

	gw := New(Config{Store: st, Logger: testLogger()})
	return &fixture{gw: gw, store: st, admin: admin, user: user}
}

func (f *fixture) mustRule(t *testing.T, pattern string, action domain.RuleAction) *domain.Rule {
	t.Helper()
	r, err := f.gw.CreateRule(context.Background(), f.admin.APIKey, pattern, action, "")
	if err != nil {
		t.Fatalf("CreateRule(%s): %v", pattern, err)
	}
	return r
}

func (f *fixture) credits(t *testing.T, apiKey string) int64 {
	t.Helper()
	p, err := f.gw.GetProfile(context.Background(), apiKey)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	return p.Credits
}

// drain spends all but keep credits of the account behind apiKey.
func (f *fixture) drain(t *testing.T, apiKey string, keep int64) {
	t.Helper()
	ctx := context.Background()
	acct, err := f.store.AccountByKey(ctx, apiKey)
	if err != nil {
		t.Fatal(err)
	}
	for acct.Credits > keep {
		_, err := f.store.CommitDecision(ctx, domain.DecisionRecord{
			AccountID: acct.ID,
			Command:   "echo drain",
			Status:    domain.StatusExecuted,
			Response:  "Command executed successfully",
			Debit:     true,
		})
		if err != nil {
			t.Fatal(err)
		}
		acct.Credits--
	}
}

func TestExecuteCommand_AllowedDebitsAndLogs(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, "^echo", domain.ActionAllow)

	res, err := f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if res.Status != domain.StatusExecuted {
		t.Fatalf("expected EXECUTED, got %s", res.Status)
	}
	if res.Message != "Command executed successfully" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if res.CreditsRemaining != domain.StartingCredits-1 {
		t.Fatalf("expected %d credits remaining, got %d", domain.StartingCredits-1, res.CreditsRemaining)
	}

	logs, err := f.gw.ListAuditLogs(context.Background(), f.admin.APIKey, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != domain.StatusExecuted || logs[0].Username != "alice" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}
}

func TestExecuteCommand_BlockedByRule(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, "^ls", domain.ActionBlock)
	f.mustRule(t, ".*", domain.ActionAllow)

	res, err := f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "ls -la")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if res.Status != domain.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", res.Status)
	}
	if res.Message != "Blocked by rule: ^ls" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if res.CreditsRemaining != domain.StartingCredits {
		t.Fatalf("rejected command changed balance: %d", res.CreditsRemaining)
	}

	logs, err := f.gw.ListAuditLogs(context.Background(), f.admin.APIKey, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != domain.StatusRejected {
		t.Fatalf("expected exactly one REJECTED audit row, got %+v", logs)
	}
}

func TestExecuteCommand_DefaultBlock(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, "rm -rf", domain.ActionBlock)

	res, err := f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if res.Status != domain.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", res.Status)
	}
	if res.Message != "Blocked by rule: Default Block" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestExecuteCommand_Unauthorized(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.ExecuteCommand(context.Background(), "no-such-key", "echo hi")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	_, err = f.gw.ExecuteCommand(context.Background(), "", "echo hi")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty key, got %v", err)
	}
}

func TestExecuteCommand_ZeroBalanceGatesBeforeRules(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, ".*", domain.ActionAllow)
	f.drain(t, f.user.APIKey, 0)

	before, err := f.gw.ListAuditLogs(context.Background(), f.admin.APIKey, 500)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// The refused attempt must not produce an audit row.
	after, err := f.gw.ListAuditLogs(context.Background(), f.admin.APIKey, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("zero-balance attempt wrote an audit row: %d -> %d", len(before), len(after))
	}
}

func TestExecuteCommand_LastCreditThenForbidden(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, "^echo", domain.ActionAllow)
	f.drain(t, f.user.APIKey, 1)

	res, err := f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
	if err != nil {
		t.Fatalf("ExecuteCommand with last credit: %v", err)
	}
	if res.Status != domain.StatusExecuted || res.CreditsRemaining != 0 {
		t.Fatalf("expected EXECUTED with 0 remaining, got %+v", res)
	}

	_, err = f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits on second call, got %v", err)
	}
}

func TestExecuteCommand_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	f.mustRule(t, "^echo", domain.ActionAllow)

	const balance = 3
	const workers = 8
	f.drain(t, f.user.APIKey, balance)

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gw.ExecuteCommand(context.Background(), f.user.APIKey, "echo hi")
			results[i] = err
		}(i)
	}
	wg.Wait()

	executed, refused := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			executed++
		case errors.Is(err, domain.ErrInsufficientCredits):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if executed != balance {
		t.Fatalf("expected exactly %d executed, got %d (refused %d)", balance, executed, refused)
	}
	if got := f.credits(t, f.user.APIKey); got != 0 {
		t.Fatalf("final balance must be 0, got %d", got)
	}

	logs, err := f.gw.ListAuditLogs(context.Background(), f.admin.APIKey, 500)
	if err != nil {
		t.Fatal(err)
	}
	got := 0
	for _, l := range logs {
		if l.Command == "echo hi" && l.Status == domain.StatusExecuted {
			got++
		}
	}
	if got != balance {
		t.Fatalf("expected %d EXECUTED audit rows, got %d", balance, got)
	}
}

func TestCreateRule_AdminOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.CreateRule(context.Background(), f.user.APIKey, "^ls", domain.ActionAllow, "")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for standard role, got %v", err)
	}

	r := f.mustRule(t, "^ls", domain.ActionAllow)
	if r.ID == 0 || r.Pattern != "^ls" {
		t.Fatalf("unexpected rule: %+v", r)
	}
}

func TestCreateRule_MalformedPattern(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.CreateRule(context.Background(), f.admin.APIKey, "([unclosed", domain.ActionBlock, "")
	if !errors.Is(err, domain.ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestCreateRule_InvalidAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.CreateRule(context.Background(), f.admin.APIKey, "^ls", "maybe", "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.gw.CreateAccount(ctx, f.admin.APIKey, "bob", domain.RoleStandard)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.Credits != domain.StartingCredits {
		t.Fatalf("expected %d starting credits, got %d", domain.StartingCredits, created.Credits)
	}
	if len(created.APIKey) < 22 {
		t.Fatalf("generated key too short for 16 bytes of entropy: %q", created.APIKey)
	}

	// The generated key authenticates.
	p, err := f.gw.GetProfile(ctx, created.APIKey)
	if err != nil {
		t.Fatalf("GetProfile with generated key: %v", err)
	}
	if p.Username != "bob" || p.Role != domain.RoleStandard {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_, err = f.gw.CreateAccount(ctx, f.admin.APIKey, "bob", domain.RoleStandard)
	if !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	_, err = f.gw.CreateAccount(ctx, f.user.APIKey, "carol", domain.RoleStandard)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for standard role, got %v", err)
	}
}

func TestCreateAccount_KeysDiffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.gw.CreateAccount(ctx, f.admin.APIKey, "bob", domain.RoleStandard)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.gw.CreateAccount(ctx, f.admin.APIKey, "carol", domain.RoleStandard)
	if err != nil {
		t.Fatal(err)
	}
	if a.APIKey == b.APIKey {
		t.Fatal("generated keys must be unique")
	}
}

func TestListAuditLogs_AdminOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.ListAuditLogs(context.Background(), f.user.APIKey, 10)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)

	p, err := f.gw.GetProfile(context.Background(), f.user.APIKey)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Username != "alice" || p.Role != domain.RoleStandard || p.Credits != domain.StartingCredits {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_, err = f.gw.GetProfile(context.Background(), "bad-key")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
