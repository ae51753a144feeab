// Command smoke drives a running securecms-api through the account, content
// and audit paths and exits non-zero on the first unexpected response.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"securecms.org/internal/auth"
	"securecms.org/internal/client"
	"securecms.org/internal/content"
	"securecms.org/internal/ids"
)

func main() {
	base := os.Getenv("CMS_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	anon, err := client.New(base, nil)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := anon.Ready(ctx); err != nil {
		log.Fatalf("api at %s not ready: %v", base, err)
	}

	name := "smoke_" + strings.ToLower(ids.New()[18:])
	password := "smoke-" + ids.New()
	user, err := anon.Register(ctx, auth.RegisterInput{
		Username: name,
		Email:    name + "@smoke.invalid",
		Password: password,
		FullName: "Smoke Test",
		SSN:      "000-00-0000",
		Phone:    "+1-555-0199",
	})
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	if _, _, err := anon.Login(ctx, name, password+"x"); client.StatusOf(err) != http.StatusUnauthorized {
		log.Fatalf("wrong password: want 401, got %v", err)
	}
	author, session, err := anon.Login(ctx, name, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	draft, err := author.CreateContent(ctx, content.CreateInput{
		Title: "Smoke " + name,
		Body:  "created by the smoke test",
		Tags:  []string{"smoke"},
	})
	if err != nil {
		log.Fatalf("create content: %v", err)
	}
	if _, err := anon.GetContent(ctx, draft.ID); client.StatusOf(err) != http.StatusNotFound {
		log.Fatalf("anonymous draft read: want 404, got %v", err)
	}
	published, err := author.Publish(ctx, draft.ID)
	if err != nil {
		log.Fatalf("publish: %v", err)
	}
	if published.Status != content.StatusPublished {
		log.Fatalf("publish: unexpected status %q", published.Status)
	}
	if _, err := anon.GetContent(ctx, draft.ID); err != nil {
		log.Fatalf("anonymous read after publish: %v", err)
	}
	listed, err := anon.ListContent(ctx)
	if err != nil {
		log.Fatalf("anonymous list: %v", err)
	}
	if !slices.ContainsFunc(listed, func(c content.Content) bool { return c.ID == draft.ID }) {
		log.Fatalf("anonymous list: published content %d missing", draft.ID)
	}
	if _, err := author.QueryAudit(ctx, "", 0, 1); client.StatusOf(err) != http.StatusForbidden {
		log.Fatalf("audit query without Audit:Read: want 403, got %v", err)
	}

	if admin, pw := os.Getenv("CMS_SMOKE_ADMIN_USER"), os.Getenv("CMS_SMOKE_ADMIN_PASSWORD"); admin != "" {
		auditor, _, err := anon.Login(ctx, admin, pw)
		if err != nil {
			log.Fatalf("admin login: %v", err)
		}
		history, err := auditor.ContentHistory(ctx, draft.ID)
		if err != nil {
			log.Fatalf("content history: %v", err)
		}
		if len(history) < 2 {
			log.Fatalf("content history: want insert and update records, got %d", len(history))
		}
	}

	if err := author.DeleteContent(ctx, draft.ID); err != nil {
		log.Fatalf("delete content: %v", err)
	}

	fmt.Printf("securecms smoke test passed: user=%d roles=%v content=%d\n", user.ID, session.Roles, draft.ID)
}
