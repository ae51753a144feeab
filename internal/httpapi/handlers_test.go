package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/config"
	"securecms.org/internal/content"
	"securecms.org/internal/cryptobox"
	"securecms.org/internal/obs"
	"securecms.org/internal/store/memory"
	"securecms.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memory.Store
	t       *testing.T
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newServices(t *testing.T) (Services, *memory.Store) {
	t.Helper()
	store := memory.New()
	if err := store.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	feed := stream.New()
	rec, err := audit.NewRecorder(store, feed)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	box, err := cryptobox.New(config.EncryptionConfig{MasterKey: "http-test-master-key"})
	if err != nil {
		t.Fatalf("cryptobox.New: %v", err)
	}
	issuer, err := auth.NewIssuer(config.SessionConfig{
		Secret:            "http-test-secret",
		Issuer:            "securecms",
		Audience:          "securecms-clients",
		ExpirationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	accounts, err := auth.NewAccounts(store, rec, box, issuer)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	rbac, err := auth.NewRBACService(store, rec)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	eval, err := auth.NewEvaluator(store)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	policy, err := auth.NewPolicy(eval)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	contents, err := content.NewService(store, policy, rec)
	if err != nil {
		t.Fatalf("content.NewService: %v", err)
	}
	return Services{
		Accounts:  accounts,
		RBAC:      rbac,
		Evaluator: eval,
		Policy:    policy,
		Content:   contents,
		Audit:     rec,
		Feed:      feed,
	}, store
}

func silenceLogs(t *testing.T) {
	t.Helper()
	logger := obs.Logger()
	orig := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { logger.SetOutput(orig) })
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	silenceLogs(t)

	obs.SetBuild("securecms-api", "test", "")
	svc, store := newServices(t)
	api, err := New(svc, Options{RateLimitRPS: 100, RateLimitBurst: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) delete(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodDelete, path, nil, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

// register creates a user through the API and returns its id.
func (c *apiClient) register(username string) int64 {
	c.t.Helper()
	resp := c.post("/api/auth/register", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "pw-" + username,
		"ssn":      "123-45-6789",
		"phone":    "+1-555-0100",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", username, resp.StatusCode)
	}
	u := decode[map[string]any](c.t, resp)
	return int64(u["id"].(float64))
}

// grantRole assigns a seeded role directly in the store.
func (c *apiClient) grantRole(userID int64, role string) {
	c.t.Helper()
	ctx := context.Background()
	r, err := c.store.GetRoleByName(ctx, role)
	if err != nil {
		c.t.Fatalf("GetRoleByName %s: %v", role, err)
	}
	if err := c.store.AssignRole(ctx, &auth.Assignment{UserID: userID, RoleID: r.ID}); err != nil {
		c.t.Fatalf("AssignRole: %v", err)
	}
}

func (c *apiClient) login(username string) map[string]string {
	c.t.Helper()
	resp := c.post("/api/auth/login", map[string]any{
		"username": username,
		"password": "pw-" + username,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: unexpected status %d", username, resp.StatusCode)
	}
	res := decode[auth.LoginResult](c.t, resp)
	if res.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + res.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["version"] != "test" || health["service"] != "securecms-api" || health["uptimeSeconds"] == nil {
		t.Fatalf("unexpected health payload %v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
	expectStatus(t, api.get("/readyz", nil, nil), http.StatusOK)

	silenceLogs(t)
	svc, _ := newServices(t)
	notReady, err := New(svc, Options{Ready: ReadyProbe{Store: failingPinger{}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rr := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Services{}, Options{}); err == nil {
		t.Fatalf("expected error for missing services")
	}
}

func TestRegisterLoginValidate(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/api/auth/register", map[string]any{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "pw-alice",
		"ssn":      "123-45-6789",
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	user := decode[map[string]any](t, resp)
	if user["username"] != "alice" || user["isActive"] != true {
		t.Fatalf("unexpected user %v", user)
	}
	if _, leaked := user["encryptedSsn"]; leaked {
		t.Fatalf("encrypted fields must not be returned")
	}

	dup := api.post("/api/auth/register", map[string]any{
		"username": "ALICE2",
		"email":    "Alice@Example.com",
		"password": "x",
	}, nil)
	expectStatus(t, dup, http.StatusConflict)

	bad := api.post("/api/auth/login", map[string]any{"username": "alice", "password": "wrong"}, nil)
	expectStatus(t, bad, http.StatusUnauthorized)
	unknown := api.post("/api/auth/login", map[string]any{"username": "nobody", "password": "wrong"}, nil)
	expectStatus(t, unknown, http.StatusUnauthorized)
	if a, b := decode[map[string]any](t, bad)["error"], decode[map[string]any](t, unknown)["error"]; a != b {
		t.Fatalf("login failures must be indistinguishable: %v vs %v", a, b)
	}

	headers := api.login("alice")
	resp = api.get("/api/auth/validate", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	claims := decode[map[string]any](t, resp)
	if claims["username"] != "alice" || claims["valid"] != true {
		t.Fatalf("unexpected claims %v", claims)
	}

	resp = api.get("/api/auth/permissions", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	perms := decode[map[string][]string](t, resp)["permissions"]
	if len(perms) != 2 || perms[0] != "Content:Create" || perms[1] != "Content:Read" {
		t.Fatalf("unexpected permissions %v", perms)
	}
}

func TestAuthenticationFailsClosed(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.get("/api/auth/validate", nil, nil), http.StatusUnauthorized)
	expectStatus(t, api.get("/api/auth/validate", nil, map[string]string{"Authorization": "Bearer not-a-token"}), http.StatusUnauthorized)
	expectStatus(t, api.get("/api/auth/validate", nil, map[string]string{"Authorization": "Basic abc"}), http.StatusUnauthorized)

	// A bad token is rejected even on routes that allow anonymous access.
	resp := api.get("/api/content", nil, map[string]string{"Authorization": "Bearer garbage"})
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected request_id in error body")
	}
}

func TestRejectsMalformedBodies(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.post("/api/auth/register", nil, nil), http.StatusBadRequest)
	expectStatus(t, api.post("/api/auth/register", map[string]any{"username": "x", "unknown": 1}, nil), http.StatusBadRequest)
	expectStatus(t, api.get("/api/nothing-here", nil, nil), http.StatusNotFound)
	expectStatus(t, api.put("/api/auth/login", map[string]any{}, nil), http.StatusMethodNotAllowed)
}

func TestContentLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.register("author")
	api.register("other")
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	author := api.login("author")
	other := api.login("other")
	admin := api.login("admin")

	resp := api.post("/api/content", map[string]any{
		"title": "Hello World",
		"body":  "first post",
		"tags":  []string{"Go", "go", "Security"},
	}, author)
	expectStatus(t, resp, http.StatusCreated)
	item := decode[content.Content](t, resp)
	if item.Slug != "hello-world" || item.Status != content.StatusDraft || len(item.Tags) != 2 {
		t.Fatalf("unexpected content %+v", item)
	}
	path := "/api/content/" + strconv.FormatInt(item.ID, 10)

	expectStatus(t, api.post("/api/content", map[string]any{"title": "x", "body": "y"}, nil), http.StatusUnauthorized)

	// Drafts are hidden from anonymous readers and other authors.
	if list := decode[[]content.Content](t, api.get("/api/content", nil, nil)); len(list) != 0 {
		t.Fatalf("draft leaked into public list: %+v", list)
	}
	expectStatus(t, api.get(path, nil, nil), http.StatusNotFound)
	expectStatus(t, api.get(path, nil, other), http.StatusNotFound)
	expectStatus(t, api.get(path, nil, author), http.StatusOK)
	expectStatus(t, api.get(path, nil, admin), http.StatusOK)
	if mine := decode[[]content.Content](t, api.get("/api/content/my-contents", nil, author)); len(mine) != 1 {
		t.Fatalf("expected one item in my-contents, got %d", len(mine))
	}

	// Other authors cannot touch it; the owner can without Content:Publish.
	expectStatus(t, api.put(path, map[string]any{"title": "Hijacked"}, other), http.StatusForbidden)
	expectStatus(t, api.post(path+"/publish", nil, other), http.StatusForbidden)
	resp = api.post(path+"/publish", nil, author)
	expectStatus(t, resp, http.StatusOK)
	if published := decode[content.Content](t, resp); published.Status != content.StatusPublished || published.PublishedAt == nil {
		t.Fatalf("unexpected published item %+v", published)
	}
	if list := decode[[]content.Content](t, api.get("/api/content", nil, nil)); len(list) != 1 {
		t.Fatalf("expected one published item, got %d", len(list))
	}

	resp = api.put(path, map[string]any{"title": "Hello Again", "tags": []string{}}, author)
	expectStatus(t, resp, http.StatusOK)
	updated := decode[content.Content](t, resp)
	if updated.Slug != "hello-again" || len(updated.Tags) != 0 || updated.Body != "first post" {
		t.Fatalf("unexpected update %+v", updated)
	}

	expectStatus(t, api.delete(path, other), http.StatusForbidden)
	expectStatus(t, api.delete(path, admin), http.StatusNoContent)
	expectStatus(t, api.get(path, nil, admin), http.StatusNotFound)
	expectStatus(t, api.get("/api/content/abc", nil, nil), http.StatusBadRequest)

	resp = api.get("/api/audit/content/"+strconv.FormatInt(item.ID, 10), nil, admin)
	expectStatus(t, resp, http.StatusOK)
	recs := decode[[]audit.Record](t, resp)
	var ops []audit.Operation
	for _, r := range recs {
		ops = append(ops, r.Operation)
	}
	// insert, publish, update; the delete record has no new values.
	if len(recs) != 3 || recs[len(recs)-1].Operation != audit.OpInsert {
		t.Fatalf("unexpected content history %v", ops)
	}
}

func TestUserAdministration(t *testing.T) {
	api := newTestAPI(t)
	bobID := api.register("bob")
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	bob := api.login("bob")
	admin := api.login("admin")
	piiPath := "/api/users/" + strconv.FormatInt(bobID, 10) + "/pii"

	expectStatus(t, api.get(piiPath, nil, bob), http.StatusForbidden)
	resp := api.get(piiPath, nil, admin)
	expectStatus(t, resp, http.StatusOK)
	pii := decode[auth.PII](t, resp)
	if pii.SSN != "123-45-6789" || pii.Phone != "+1-555-0100" {
		t.Fatalf("unexpected pii %+v", pii)
	}

	deactivate := "/api/users/" + strconv.FormatInt(bobID, 10) + "/deactivate"
	expectStatus(t, api.post(deactivate, nil, bob), http.StatusForbidden)
	resp = api.post(deactivate, nil, admin)
	expectStatus(t, resp, http.StatusOK)
	if u := decode[map[string]any](t, resp); u["isActive"] != false {
		t.Fatalf("expected inactive user, got %v", u)
	}
	expectStatus(t, api.post("/api/auth/login", map[string]any{"username": "bob", "password": "pw-bob"}, nil), http.StatusUnauthorized)
	expectStatus(t, api.post("/api/users/999/deactivate", nil, admin), http.StatusNotFound)
}

func TestAuditQueryFilters(t *testing.T) {
	api := newTestAPI(t)
	carolID := api.register("carol")
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	carol := api.login("carol")
	admin := api.login("admin")

	expectStatus(t, api.get("/api/audit", nil, carol), http.StatusForbidden)
	expectStatus(t, api.get("/api/audit", nil, nil), http.StatusUnauthorized)
	expectStatus(t, api.get("/api/audit", url.Values{"pageSize": {"many"}}, admin), http.StatusBadRequest)

	resp := api.get("/api/audit", url.Values{"tableName": {"users"}}, admin)
	expectStatus(t, resp, http.StatusOK)
	for _, rec := range decode[[]audit.Record](t, resp) {
		if rec.TableName != "users" {
			t.Fatalf("filter leaked %s record", rec.TableName)
		}
	}

	resp = api.get("/api/audit/user/"+strconv.FormatInt(carolID, 10), url.Values{"pageSize": {"2"}}, admin)
	expectStatus(t, resp, http.StatusOK)
	recs := decode[[]audit.Record](t, resp)
	if len(recs) != 2 {
		t.Fatalf("expected page of 2, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.UserID == nil || *rec.UserID != carolID {
			t.Fatalf("record not attributed to carol: %+v", rec)
		}
	}
}

func TestAuditRecordsPeerAddress(t *testing.T) {
	api := newTestAPI(t)
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	admin := api.login("admin")

	resp := api.post("/api/auth/register", map[string]any{
		"username": "spoofer",
		"email":    "spoofer@example.com",
		"password": "pw-spoofer",
	}, map[string]string{"X-Forwarded-For": "10.9.0.16"})
	expectStatus(t, resp, http.StatusCreated)
	spooferID := int64(decode[map[string]any](t, resp)["id"].(float64))

	resp = api.get("/api/audit/user/"+strconv.FormatInt(spooferID, 10), nil, admin)
	expectStatus(t, resp, http.StatusOK)
	recs := decode[[]audit.Record](t, resp)
	if len(recs) == 0 {
		t.Fatalf("expected audit records for the registration")
	}
	for _, rec := range recs {
		if rec.IPAddress != "127.0.0.1" {
			t.Fatalf("audit record took a forwarded address: %q", rec.IPAddress)
		}
	}
}
