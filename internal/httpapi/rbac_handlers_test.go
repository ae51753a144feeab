package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
)

func TestRoleRoutesRequirePermission(t *testing.T) {
	api := newTestAPI(t)
	api.register("dave")
	dave := api.login("dave")

	expectStatus(t, api.get("/api/role", nil, dave), http.StatusForbidden)
	expectStatus(t, api.get("/api/permissions", nil, dave), http.StatusForbidden)
	expectStatus(t, api.post("/api/role", map[string]any{"name": "Reviewer"}, dave), http.StatusForbidden)
	expectStatus(t, api.post("/api/role/assign", map[string]any{"userId": 1, "roleId": 1}, dave), http.StatusForbidden)
	expectStatus(t, api.get("/api/role", nil, nil), http.StatusUnauthorized)
}

func TestRoleManagementFlow(t *testing.T) {
	api := newTestAPI(t)
	erinID := api.register("erin")
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	admin := api.login("admin")

	resp := api.get("/api/role", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	if roles := decode[[]auth.Role](t, resp); len(roles) != 4 {
		t.Fatalf("expected 4 seeded roles, got %d", len(roles))
	}

	resp = api.get("/api/permissions", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	perms := decode[[]auth.Permission](t, resp)
	var auditRead int64
	for _, p := range perms {
		if p.Key() == "Audit:Read" {
			auditRead = p.ID
		}
	}
	if auditRead == 0 {
		t.Fatalf("Audit:Read missing from catalogue")
	}

	resp = api.post("/api/permissions", map[string]any{
		"name": "content.archive", "resource": "Content", "action": "Archive",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	archive := decode[auth.Permission](t, resp)
	expectStatus(t, api.post("/api/permissions", map[string]any{
		"name": "content.archive2", "resource": "Content", "action": "Archive",
	}, admin), http.StatusConflict)

	resp = api.post("/api/role", map[string]any{
		"name":          "Auditor",
		"description":   "Reads the trail",
		"permissionIds": []int64{auditRead},
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Location") == "" {
		t.Fatalf("expected Location header")
	}
	role := decode[auth.Role](t, resp)
	expectStatus(t, api.post("/api/role", map[string]any{"name": "Auditor"}, admin), http.StatusConflict)

	// erin gains Audit:Read through the new role without logging in again.
	erin := api.login("erin")
	expectStatus(t, api.get("/api/audit", nil, erin), http.StatusForbidden)
	assign := map[string]any{"userId": erinID, "roleId": role.ID}
	expectStatus(t, api.post("/api/role/assign", assign, admin), http.StatusCreated)
	expectStatus(t, api.post("/api/role/assign", assign, admin), http.StatusConflict)
	expectStatus(t, api.get("/api/audit", nil, erin), http.StatusOK)

	resp = api.get("/api/role/user/"+strconv.FormatInt(erinID, 10), nil, admin)
	expectStatus(t, resp, http.StatusOK)
	got := decode[map[string]any](t, resp)
	if roles, _ := got["roles"].([]any); len(roles) != 2 {
		t.Fatalf("expected Author and Auditor, got %v", got["roles"])
	}

	grants := "/api/role/" + strconv.FormatInt(role.ID, 10) + "/permissions"
	expectStatus(t, api.post(grants, map[string]any{"permissionId": archive.ID}, admin), http.StatusCreated)
	expectStatus(t, api.post(grants, map[string]any{"permissionId": archive.ID}, admin), http.StatusConflict)
	revoke := grants + "/" + strconv.FormatInt(auditRead, 10)
	expectStatus(t, api.delete(revoke, admin), http.StatusNoContent)
	expectStatus(t, api.delete(revoke, admin), http.StatusNotFound)
	expectStatus(t, api.get("/api/audit", nil, erin), http.StatusForbidden)

	expectStatus(t, api.post("/api/role/remove", assign, admin), http.StatusNoContent)
	expectStatus(t, api.post("/api/role/remove", assign, admin), http.StatusNotFound)
	expectStatus(t, api.post("/api/role/assign", map[string]any{"userId": erinID, "roleId": 999}, admin), http.StatusNotFound)

	resp = api.get("/api/audit", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	tables := map[string]bool{}
	for _, rec := range decode[[]audit.Record](t, resp) {
		tables[rec.TableName] = true
	}
	for _, table := range []string{"roles", "permissions", "role_permissions", "user_roles"} {
		if !tables[table] {
			t.Errorf("no audit record for %s", table)
		}
	}
}

func TestAuditStreamDeliversCommittedRecords(t *testing.T) {
	api := newTestAPI(t)
	adminID := api.register("admin")
	api.grantRole(adminID, "Admin")
	admin := api.login("admin")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/api/audit/stream?tableName=contents", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", admin["Authorization"])
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	expectStatus(t, api.post("/api/content", map[string]any{"title": "Live", "body": "feed"}, admin), http.StatusCreated)

	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != "audit" {
		t.Fatalf("unexpected event %q", event)
	}
	if !strings.Contains(data, `"tableName":"contents"`) || !strings.Contains(data, `"operation":"INSERT"`) {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestAuditStreamRequiresPermission(t *testing.T) {
	api := newTestAPI(t)
	api.register("frank")
	frank := api.login("frank")
	expectStatus(t, api.get("/api/audit/stream", nil, frank), http.StatusForbidden)
}
