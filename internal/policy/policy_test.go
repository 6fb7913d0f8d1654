package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felipepmaragno/quotagate/internal/domain"
)

func loadTestdata(t *testing.T) *Document {
	t.Helper()
	doc, err := NewStore(filepath.Join("testdata", "security.yaml")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return doc
}

func TestPatternPrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"^/api/export/.*", "/api/export/"},
		{"^/api/orders$", "/api/orders"},
		{"/webhooks/", "/webhooks/"},
		{"^/api/.*/items/.*", "/api//items/"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := PatternPrefix(tt.pattern); got != tt.want {
				t.Errorf("PatternPrefix(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestDocument_Limits(t *testing.T) {
	doc := loadTestdata(t)

	tests := []struct {
		name      string
		tier      domain.Tier
		path      string
		wantRPM   int
		wantBurst int
	}{
		{"free export override keeps default rpm", domain.TierFree, "/api/export/x", 60, 5},
		{"free falls through to api rule", domain.TierFree, "/api/other", 30, 15},
		{"pro export override", domain.TierPro, "/api/export/orders.csv", 100, 20},
		{"pro without matching override", domain.TierPro, "/api/other", 1200, 300},
		{"verified key is case-insensitive", domain.TierVerified, "/api/other", 120, 60},
		{"no rule matches", domain.TierFree, "/core/search", 60, 30},
		{"tier missing from document", domain.Tier("ghost"), "/x", DefaultRequestsPerMinute, DefaultBurst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := doc.Limits(tt.tier, tt.path)
			if got.RequestsPerMinute != tt.wantRPM || got.Burst != tt.wantBurst {
				t.Errorf("Limits(%q, %q) = %+v, want rpm=%d burst=%d", tt.tier, tt.path, got, tt.wantRPM, tt.wantBurst)
			}
		})
	}
}

func TestDocument_Limits_FirstMatchWins(t *testing.T) {
	doc, err := Parse([]byte(`
rate_limits:
  tiers:
    free: {requests_per_minute: 60, burst: 30}
  endpoints:
    - pattern: "^/api/.*"
      tier_override:
        free: {burst: 7}
    - pattern: "^/api/export/.*"
      tier_override:
        free: {requests_per_minute: 1, burst: 1}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := doc.Limits(domain.TierFree, "/api/export/x")
	if got.RequestsPerMinute != 60 || got.Burst != 7 {
		t.Errorf("Limits() = %+v, want rpm=60 burst=7", got)
	}
}

func TestDocument_WebhooksPerDay(t *testing.T) {
	doc := loadTestdata(t)

	tests := []struct {
		tier string
		want int
	}{
		{"pro", 5000},
		{"PRO", 5000},
		{"verified", 2500},
		{"unknown-tier", DefaultWebhooksPerDay},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			if got := doc.WebhooksPerDay(tt.tier); got != tt.want {
				t.Errorf("WebhooksPerDay(%q) = %d, want %d", tt.tier, got, tt.want)
			}
		})
	}
}

func TestDocument_ExplicitZeroKept(t *testing.T) {
	doc, err := Parse([]byte(`
rate_limits:
  tiers:
    free: {requests_per_minute: 0, burst: 0, webhooks_per_day: 0}
    pro: {burst: 50}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := doc.Limits(domain.TierFree, "/api/x"); got.RequestsPerMinute != 0 || got.Burst != 0 {
		t.Errorf("Limits(free) = %+v, want explicit zeros", got)
	}
	if got := doc.WebhooksPerDay("free"); got != 0 {
		t.Errorf("WebhooksPerDay(free) = %d, want 0", got)
	}

	got := doc.Limits(domain.TierPro, "/api/x")
	if got.RequestsPerMinute != DefaultRequestsPerMinute || got.Burst != 50 {
		t.Errorf("Limits(pro) = %+v, want rpm=%d burst=50", got, DefaultRequestsPerMinute)
	}
	if got := doc.WebhooksPerDay("pro"); got != DefaultWebhooksPerDay {
		t.Errorf("WebhooksPerDay(pro) = %d, want %d", got, DefaultWebhooksPerDay)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no tiers", "rate_limits:\n  endpoints: []\n"},
		{"bad yaml", "rate_limits: [\n"},
		{"bad local bucket", "rate_limits:\n  tiers:\n    free: {burst: 1}\n  local_buckets:\n    - route: /x\n"},
		{"negative tier limit", "rate_limits:\n  tiers:\n    free: {burst: -1}\n"},
		{"negative override", "rate_limits:\n  tiers:\n    free: {burst: 1}\n  endpoints:\n    - pattern: /api/\n      tier_override:\n        free: {requests_per_minute: -5}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, domain.ErrInvalidPolicy) {
				t.Errorf("Parse() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestStore_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")

	if err := os.WriteFile(second, []byte("rate_limits:\n  tiers:\n    free: {burst: 2}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewStore(first, second)
	doc, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Path() != second {
		t.Errorf("Path() = %q, want %q", store.Path(), second)
	}
	if b := doc.RateLimits.Tiers["free"].Burst; b == nil || *b != 2 {
		t.Errorf("free burst = %v, want 2", b)
	}
}

func TestStore_CachesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.yaml")
	if err := os.WriteFile(path, []byte("rate_limits:\n  tiers:\n    free: {burst: 3}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	doc1, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	doc2, err := store.Load()
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if doc1 != doc2 {
		t.Error("Load() should return the cached document")
	}
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := store.Load()
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Fatalf("Load() error = %v, want ErrPolicyNotFound", err)
	}

	_, err = store.Load()
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("second Load() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestDefaultSearchPaths(t *testing.T) {
	paths := DefaultSearchPaths()
	if len(paths) < 2 {
		t.Fatalf("DefaultSearchPaths() = %v, want at least 2 entries", paths)
	}
	if paths[len(paths)-1] != "./config/security.yaml" {
		t.Errorf("last search path = %q, want ./config/security.yaml", paths[len(paths)-1])
	}
}
