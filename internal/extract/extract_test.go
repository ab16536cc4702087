package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

const planDoc = `---
title: Auth Rework
status: active
tags: [auth, security]
depends: [0041-user-model]
---

# Auth Rework

## Features

- Session token rotation
- OAuth provider support

## Notes

- not a feature
`

const agentDoc = `---
agent: agent-001
title: Token Builder
status: WIP
modifies:
  - src/auth/token.go
  - src/auth/session.go
implements:
  - 0042-auth-rework/session-token-rotation
depends:
  - agent-000
---

Work on token rotation.
`

func writePlanDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "0042-auth-rework")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.md"), []byte(planDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "builder.md"), []byte(agentDoc), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func findEntity(result *Result, et storage.EntityType, canonicalID string) *storage.Entity {
	for _, e := range result.Entities {
		if e.Type == et && e.CanonicalID == canonicalID {
			return e
		}
	}
	return nil
}

func hasEdge(result *Result, src, dst Ref, rt storage.RelationType) bool {
	for _, e := range result.Edges {
		if e.Source == src && e.Target == dst && e.Type == rt {
			return true
		}
	}
	return false
}

func TestExtractPlan(t *testing.T) {
	dir := writePlanDir(t)
	ex := New(slogutil.NewDiscardLogger())

	result, err := ex.ExtractPlan(dir)
	if err != nil {
		t.Fatalf("ExtractPlan failed: %v", err)
	}

	plan := findEntity(result, storage.EntityPlan, "0042-auth-rework")
	if plan == nil {
		t.Fatal("plan entity missing")
	}
	if plan.Name != "Auth Rework" {
		t.Errorf("plan name = %q", plan.Name)
	}
	if plan.MetaString("status") != "active" {
		t.Errorf("plan status = %q", plan.MetaString("status"))
	}
	if plan.ContentHash == "" {
		t.Error("plan content hash missing")
	}

	agent := findEntity(result, storage.EntityAgent, "agent-001")
	if agent == nil {
		t.Fatal("agent entity missing")
	}
	if agent.Name != "Token Builder" || agent.MetaString("status") != "WIP" {
		t.Errorf("agent = %q status %q", agent.Name, agent.MetaString("status"))
	}

	feat := findEntity(result, storage.EntityFeature, "0042-auth-rework/session-token-rotation")
	if feat == nil {
		t.Fatal("feature entity missing; features found only under the Features heading")
	}
	if findEntity(result, storage.EntityFeature, "0042-auth-rework/not-a-feature") != nil {
		t.Error("list item outside the Features section extracted as a feature")
	}

	if findEntity(result, storage.EntityTag, "auth") == nil {
		t.Error("tag entity missing")
	}
	if findEntity(result, storage.EntityFile, "src/auth/token.go") == nil {
		t.Error("file entity missing")
	}

	planRef := Ref{Type: storage.EntityPlan, CanonicalID: "0042-auth-rework"}
	agentRef := Ref{Type: storage.EntityAgent, CanonicalID: "agent-001"}
	checks := []struct {
		src, dst Ref
		rt       storage.RelationType
	}{
		{planRef, agentRef, storage.RelationContains},
		{planRef, Ref{storage.EntityFeature, "0042-auth-rework/session-token-rotation"}, storage.RelationContains},
		{planRef, Ref{storage.EntityTag, "auth"}, storage.RelationTaggedWith},
		{planRef, Ref{storage.EntityPlan, "0041-user-model"}, storage.RelationDependsOn},
		{agentRef, Ref{storage.EntityFile, "src/auth/token.go"}, storage.RelationModifies},
		{agentRef, Ref{storage.EntityFeature, "0042-auth-rework/session-token-rotation"}, storage.RelationImplements},
		{agentRef, Ref{storage.EntityAgent, "agent-000"}, storage.RelationDependsOn},
	}
	for _, c := range checks {
		if !hasEdge(result, c.src, c.dst, c.rt) {
			t.Errorf("missing edge %v -[%s]-> %v", c.src, c.rt, c.dst)
		}
	}
}

func TestExtractPlanMissingPlanDoc(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "0001-empty")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	ex := New(slogutil.NewDiscardLogger())
	if _, err := ex.ExtractPlan(dir); err == nil {
		t.Error("expected error for plan directory without plan.md")
	}
}

func TestExtractPlanBadDirName(t *testing.T) {
	ex := New(slogutil.NewDiscardLogger())
	if _, err := ex.ExtractPlan(filepath.Join(t.TempDir(), "notes")); err == nil {
		t.Error("expected error for non-conventional directory name")
	}
}

func TestExtractPlanMalformedFrontmatter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "0007-broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := "---\ntitle: [unclosed\n---\n\n# Broken Plan\n"
	if err := os.WriteFile(filepath.Join(dir, "plan.md"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	ex := New(slogutil.NewDiscardLogger())
	result, err := ex.ExtractPlan(dir)
	if err != nil {
		t.Fatalf("malformed frontmatter must not be fatal: %v", err)
	}
	plan := findEntity(result, storage.EntityPlan, "0007-broken")
	if plan == nil {
		t.Fatal("plan entity missing")
	}
	if plan.Name != "Broken Plan" {
		t.Errorf("expected heading fallback, got %q", plan.Name)
	}
}

func TestIsPlanDir(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"0042-auth-rework", true},
		{"123-a", true},
		{"42-short-prefix", false},
		{"auth-rework", false},
		{"0042", false},
		{"0042-", false},
	}
	for _, tt := range tests {
		if got := IsPlanDir(tt.name); got != tt.want {
			t.Errorf("IsPlanDir(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolvePlanDir(t *testing.T) {
	root := t.TempDir()
	planDir := filepath.Join(root, "plans", "0042-auth-rework")
	nested := filepath.Join(planDir, "agents")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got := ResolvePlanDir(filepath.Join(nested, "builder.md"), root)
	if got != planDir {
		t.Errorf("ResolvePlanDir = %q, want %q", got, planDir)
	}

	if got := ResolvePlanDir(filepath.Join(root, "plans", "readme.md"), root); got != "" {
		t.Errorf("expected no plan dir, got %q", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Session Token Rotation", "session-token-rotation"},
		{"OAuth provider support", "oauth-provider-support"},
		{"  spaced  out  ", "spaced-out"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
