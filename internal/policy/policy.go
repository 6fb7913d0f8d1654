// Package policy loads the tiered rate-limit and webhook-quota policy.
// The document is read once per process from the first existing file in a
// fixed search order and is never mutated afterwards.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/felipepmaragno/quotagate/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 30
	DefaultWebhooksPerDay    = 1000
)

type Document struct {
	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	Tiers        map[string]TierLimits `yaml:"tiers"`
	Endpoints    []EndpointRule        `yaml:"endpoints"`
	LocalBuckets []LocalBucket         `yaml:"local_buckets"`
}

// TierLimits fields are optional; nil falls back to the package default
// while an explicit zero is kept.
type TierLimits struct {
	RequestsPerMinute *int `yaml:"requests_per_minute"`
	Burst             *int `yaml:"burst"`
	WebhooksPerDay    *int `yaml:"webhooks_per_day"`
}

// EndpointRule overrides tier limits for paths matching Pattern.
type EndpointRule struct {
	Pattern      string              `yaml:"pattern"`
	TierOverride map[string]Override `yaml:"tier_override"`
}

// Override fields are optional; nil keeps the tier default.
type Override struct {
	RequestsPerMinute *int `yaml:"requests_per_minute"`
	Burst             *int `yaml:"burst"`
}

// LocalBucket configures an in-process token bucket for a route prefix.
type LocalBucket struct {
	Route         string  `yaml:"route"`
	RatePerSecond float64 `yaml:"rate_per_sec"`
	Burst         int     `yaml:"burst"`
}

// Limits is the resolved per-minute limit for one tier and path.
type Limits struct {
	RequestsPerMinute int
	Burst             int
}

// Parse decodes a policy document and normalizes tier names to lowercase.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPolicy, err)
	}

	if len(doc.RateLimits.Tiers) == 0 {
		return nil, fmt.Errorf("%w: rate_limits.tiers is empty", domain.ErrInvalidPolicy)
	}

	tiers := make(map[string]TierLimits, len(doc.RateLimits.Tiers))
	for name, limits := range doc.RateLimits.Tiers {
		if negative(limits.RequestsPerMinute, limits.Burst, limits.WebhooksPerDay) {
			return nil, fmt.Errorf("%w: tier %q has a negative limit", domain.ErrInvalidPolicy, name)
		}
		tiers[strings.ToLower(name)] = limits
	}
	doc.RateLimits.Tiers = tiers

	for i, rule := range doc.RateLimits.Endpoints {
		overrides := make(map[string]Override, len(rule.TierOverride))
		for name, o := range rule.TierOverride {
			if negative(o.RequestsPerMinute, o.Burst) {
				return nil, fmt.Errorf("%w: override %q for tier %q has a negative limit", domain.ErrInvalidPolicy, rule.Pattern, name)
			}
			overrides[strings.ToLower(name)] = o
		}
		doc.RateLimits.Endpoints[i].TierOverride = overrides
	}

	for _, b := range doc.RateLimits.LocalBuckets {
		if b.Route == "" || b.RatePerSecond <= 0 || b.Burst <= 0 {
			return nil, fmt.Errorf("%w: local bucket %q needs route, rate_per_sec and burst", domain.ErrInvalidPolicy, b.Route)
		}
	}

	return &doc, nil
}

// Limits resolves requests-per-minute and burst for tier on path.
// Endpoint rules are scanned in order; the first rule whose prefix matches
// and that carries an override for tier wins. Rules are never merged.
func (d *Document) Limits(tier domain.Tier, path string) Limits {
	l := Limits{RequestsPerMinute: DefaultRequestsPerMinute, Burst: DefaultBurst}

	if tl, ok := d.RateLimits.Tiers[string(tier)]; ok {
		if tl.RequestsPerMinute != nil {
			l.RequestsPerMinute = *tl.RequestsPerMinute
		}
		if tl.Burst != nil {
			l.Burst = *tl.Burst
		}
	}

	for _, rule := range d.RateLimits.Endpoints {
		if !strings.HasPrefix(path, PatternPrefix(rule.Pattern)) {
			continue
		}
		o, ok := rule.TierOverride[string(tier)]
		if !ok {
			continue
		}
		if o.RequestsPerMinute != nil {
			l.RequestsPerMinute = *o.RequestsPerMinute
		}
		if o.Burst != nil {
			l.Burst = *o.Burst
		}
		break
	}

	return l
}

// WebhooksPerDay returns the daily webhook cap for tier. Unlike Limits it
// does not coerce unknown tiers; they get DefaultWebhooksPerDay.
func (d *Document) WebhooksPerDay(tier string) int {
	tl, ok := d.RateLimits.Tiers[strings.ToLower(tier)]
	if !ok || tl.WebhooksPerDay == nil {
		return DefaultWebhooksPerDay
	}
	return *tl.WebhooksPerDay
}

func negative(values ...*int) bool {
	for _, v := range values {
		if v != nil && *v < 0 {
			return true
		}
	}
	return false
}

// PatternPrefix turns an anchored pattern such as "^/api/export/.*" into the
// plain prefix "/api/export/". Internal wildcards are dropped, not matched.
func PatternPrefix(pattern string) string {
	p := strings.TrimPrefix(pattern, "^")
	p = strings.TrimSuffix(p, "$")
	p = strings.TrimSuffix(p, ".*")
	return strings.ReplaceAll(p, ".*", "")
}

// Store loads the policy lazily and caches it for the lifetime of the process.
type Store struct {
	paths []string

	once sync.Once
	doc  *Document
	path string
	err  error
}

func NewStore(paths ...string) *Store {
	if len(paths) == 0 {
		paths = DefaultSearchPaths()
	}
	return &Store{paths: paths}
}

// DefaultSearchPaths returns the candidate policy locations in search order.
func DefaultSearchPaths() []string {
	var paths []string
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "..", "config", "security.yaml"))
	}
	return append(paths,
		"/app/config/security.yaml",
		"./config/security.yaml",
	)
}

// Load returns the cached document, reading it on the first call.
// A missing policy is a startup error and is returned on every call.
func (s *Store) Load() (*Document, error) {
	s.once.Do(func() {
		s.doc, s.path, s.err = s.load()
	})
	return s.doc, s.err
}

// Path reports which file the document was loaded from.
func (s *Store) Path() string {
	s.Load()
	return s.path
}

func (s *Store) load() (*Document, string, error) {
	for _, p := range s.paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read policy %s: %w", p, err)
		}

		doc, err := Parse(data)
		if err != nil {
			return nil, "", fmt.Errorf("parse policy %s: %w", p, err)
		}

		slog.Info("rate limit policy loaded",
			"path", p,
			"tiers", len(doc.RateLimits.Tiers),
			"endpoint_rules", len(doc.RateLimits.Endpoints),
		)
		return doc, p, nil
	}

	return nil, "", fmt.Errorf("%w: searched %s", domain.ErrPolicyNotFound, strings.Join(s.paths, ", "))
}
