package auth_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/config"
	"securecms.org/internal/cryptobox"
	"securecms.org/internal/obs"
	"securecms.org/internal/store/memory"
)

type fixture struct {
	store    *memory.Store
	recorder *audit.Recorder
	box      *cryptobox.Box
	issuer   *auth.Issuer
	rbac     *auth.RBACService
	accounts *auth.Accounts
	eval     *auth.Evaluator
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{Secret: "test-signing-secret", Issuer: "securecms", Audience: "securecms-clients", ExpirationMinutes: 60}
}

func newFixture(t *testing.T, opts ...auth.AccountsOption) *fixture {
	t.Helper()
	silenceLogs(t)

	store := memory.New()
	rec, err := audit.NewRecorder(store, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	box, err := cryptobox.New(config.EncryptionConfig{MasterKey: "test-master-key"})
	if err != nil {
		t.Fatalf("cryptobox.New: %v", err)
	}
	issuer, err := auth.NewIssuer(testSessionConfig())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	rbac, err := auth.NewRBACService(store, rec)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	accounts, err := auth.NewAccounts(store, rec, box, issuer, opts...)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	eval, err := auth.NewEvaluator(store)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return &fixture{store: store, recorder: rec, box: box, issuer: issuer, rbac: rbac, accounts: accounts, eval: eval}
}

func silenceLogs(t *testing.T) {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { logger.SetOutput(original) })
}

func (f *fixture) register(t *testing.T, username string) auth.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct horse battery staple",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return u
}

func (f *fixture) permission(t *testing.T, resource, action string) auth.Permission {
	t.Helper()
	p, err := f.rbac.CreatePermission(context.Background(), "", resource, action, "")
	if err != nil {
		t.Fatalf("CreatePermission(%s:%s): %v", resource, action, err)
	}
	return p
}

func (f *fixture) auditCount(t *testing.T, table string) int {
	t.Helper()
	recs, err := f.recorder.Query(context.Background(), audit.Filter{Table: table}, audit.MaxPageSize)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return len(recs)
}

func mustHave(t *testing.T, e *auth.Evaluator, userID int64, resource, action string, want bool) {
	t.Helper()
	got, err := e.HasPermission(context.Background(), userID, resource, action)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if got != want {
		t.Fatalf("HasPermission(%d, %s, %s) = %v, want %v", userID, resource, action, got, want)
	}
}

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
