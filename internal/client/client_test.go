package client_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/client"
	"securecms.org/internal/config"
	"securecms.org/internal/content"
	"securecms.org/internal/cryptobox"
	"securecms.org/internal/httpapi"
	"securecms.org/internal/obs"
	"securecms.org/internal/store/memory"
	"securecms.org/internal/stream"
)

type fixture struct {
	anon  *client.Client
	store *memory.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := obs.Logger()
	orig := logger.Writer()
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(orig) })

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Seed(ctx))
	feed := stream.New()
	rec, err := audit.NewRecorder(store, feed)
	require.NoError(t, err)
	box, err := cryptobox.New(config.EncryptionConfig{MasterKey: "client-test-master-key"})
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(config.SessionConfig{
		Secret:            "client-test-secret",
		Issuer:            "securecms",
		Audience:          "securecms-clients",
		ExpirationMinutes: 60,
	})
	require.NoError(t, err)
	accounts, err := auth.NewAccounts(store, rec, box, issuer)
	require.NoError(t, err)
	rbac, err := auth.NewRBACService(store, rec)
	require.NoError(t, err)
	eval, err := auth.NewEvaluator(store)
	require.NoError(t, err)
	policy, err := auth.NewPolicy(eval)
	require.NoError(t, err)
	contents, err := content.NewService(store, policy, rec)
	require.NoError(t, err)

	api, err := httpapi.New(httpapi.Services{
		Accounts:  accounts,
		RBAC:      rbac,
		Evaluator: eval,
		Policy:    policy,
		Content:   contents,
		Audit:     rec,
		Feed:      feed,
	}, httpapi.Options{RateLimitRPS: 100, RateLimitBurst: 100})
	require.NoError(t, err)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	anon, err := client.New(srv.URL, srv.Client())
	require.NoError(t, err)
	return fixture{anon: anon, store: store}
}

func (f fixture) signup(t *testing.T, username string) (auth.User, *client.Client) {
	t.Helper()
	ctx := context.Background()
	user, err := f.anon.Register(ctx, auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "pw-" + username,
		SSN:      "123-45-6789",
	})
	require.NoError(t, err)
	c, _, err := f.anon.Login(ctx, username, "pw-"+username)
	require.NoError(t, err)
	return user, c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := client.New("/api", nil)
	assert.Error(t, err)
	_, err = client.New("http://localhost:8080/", nil)
	assert.NoError(t, err)
}

func TestRegisterLoginAndPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, author := f.signup(t, "ada")
	assert.NotZero(t, user.ID)
	assert.Empty(t, user.EncryptedSSN, "registration response never carries ciphertext")

	perms, err := author.Permissions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Content:Create", "Content:Read"}, perms)

	_, _, err = f.anon.Login(ctx, "ada", "wrong")
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid credentials", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)

	_, err = f.anon.Register(ctx, auth.RegisterInput{Username: "ada", Email: "other@example.com", Password: "x"})
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))

	_, err = f.anon.Permissions(ctx)
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
}

func TestContentPublishAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, author := f.signup(t, "bob")
	draft, err := author.CreateContent(ctx, content.CreateInput{Title: "Hello", Body: "world", Tags: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, content.StatusDraft, draft.Status)

	_, err = f.anon.GetContent(ctx, draft.ID)
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
	listed, err := f.anon.ListContent(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)

	published, err := author.Publish(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPublished, published.Status)
	assert.NotNil(t, published.PublishedAt)

	got, err := f.anon.GetContent(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)

	_, err = author.QueryAudit(ctx, "", 0, 10)
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))

	adminUser, _ := f.signup(t, "root")
	role, err := f.store.GetRoleByName(ctx, "Admin")
	require.NoError(t, err)
	require.NoError(t, f.store.AssignRole(ctx, &auth.Assignment{UserID: adminUser.ID, RoleID: role.ID}))
	admin, _, err := f.anon.Login(ctx, "root", "pw-root")
	require.NoError(t, err)

	history, err := admin.ContentHistory(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, audit.OpUpdate, history[0].Operation)
	assert.Equal(t, audit.OpInsert, history[1].Operation)

	records, err := admin.QueryAudit(ctx, "users", 0, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, author.DeleteContent(ctx, draft.ID))
	_, err = f.anon.GetContent(ctx, draft.ID)
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
}
