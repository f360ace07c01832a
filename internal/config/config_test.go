package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/revittco/toolgate/internal/config"
	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/store"
	"github.com/revittco/toolgate/internal/store/sqlite"
	"github.com/revittco/toolgate/internal/usage"
)

const sampleYAML = `
integrations:
  - id: github
    name: GitHub
    type: development
    provider: github
    config:
      baseUrl: https://api.github.example
    auth:
      type: api_key
      config:
        header: Authorization
        prefix: "Bearer "
    secrets:
      api_key: env:GITHUB_TOKEN
    capabilities: [create_issue, search]
    rate_limit:
      requests_per_minute: 60
      concurrent: 5
    cost:
      type: per_request
      amount: 0.002
      currency: USD
  - id: summarizer
    name: Summarizer
    type: ai_service
    config:
      script: "function summarize(p) { return {summary: p.text}; }"
    capabilities: [summarize]
    cost:
      type: per_token
      amount: 0.00001
      currency: USD
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Integrations) != 2 {
		t.Fatalf("integrations = %d, want 2", len(cfg.Integrations))
	}
}

func TestParseReportsAllErrors(t *testing.T) {
	bad := `
integrations:
  - id: a
    name: A
    type: development
    cost: {type: per_request, amount: 1, currency: USD}
  - id: a
    type: nonsense
    cost: {type: weird, amount: 1, currency: USD}
`
	_, err := config.Parse([]byte(bad))
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	for _, want := range []string{"duplicate id", "name is required", "invalid type", "invalid cost type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error lacks %q: %v", want, err)
		}
	}
}

func TestParseBadYAML(t *testing.T) {
	if _, err := config.Parse([]byte("integrations: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func newRegistry(t *testing.T) *registry.Service {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(context.Background(), dir+"/test.db")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keyPath := dir + "/key.txt"
	if _, err := secrets.GenerateKeyFile(keyPath); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := secrets.NewAgeEncryptor(keyPath)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return registry.NewService(db, secrets.NewManager(db, enc),
		ratelimit.New(), usage.NewAccumulator(db), nil, nil)
}

func TestApplyAndPrune(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	cfg, err := config.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := config.Apply(ctx, reg, cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("integrations = %d, want 2", len(all))
	}
	for _, integ := range all {
		if integ.Source != "yaml" {
			t.Errorf("%s source = %q, want yaml", integ.ID, integ.Source)
		}
	}

	gh, err := reg.Get(ctx, "github")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gh.RateLimit.RequestsPerMinute != 60 || gh.RateLimit.Concurrent != 5 {
		t.Errorf("rate limit = %+v", gh.RateLimit)
	}
	if gh.Authentication.Config["header"] != "Authorization" {
		t.Errorf("auth config = %+v", gh.Authentication)
	}

	// drop one entry: the stale yaml record is pruned on re-apply
	trimmed := *cfg
	trimmed.Integrations = cfg.Integrations[:1]
	if err := config.Apply(ctx, reg, &trimmed); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if _, err := reg.Get(ctx, "summarizer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale integration survived prune: %v", err)
	}
}

func TestApplyPreservesManualIntegrations(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, registry.Registration{Integration: store.Integration{
		ID: "manual", Name: "Manual", Type: store.TypeMonitoring,
		Config:       map[string]any{"baseUrl": "http://manual.example"},
		Capabilities: []string{"check"},
		Cost:         cost.Model{Type: cost.TypePerRequest, Amount: 0.001, Currency: "USD"},
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cfg, _ := config.Parse([]byte(sampleYAML))
	if err := config.Apply(ctx, reg, cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := reg.Get(ctx, "manual"); err != nil {
		t.Errorf("manually registered integration pruned: %v", err)
	}
}
