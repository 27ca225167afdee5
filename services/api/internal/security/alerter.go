// Package security raises alerts when security events of one kind pile up
// from a single client address.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Rule fires once Threshold matching events are seen inside Window.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// AlertResult is the outcome of one Observe call.
type AlertResult struct {
	Triggered bool
	Count     int64
	Rule      Rule
}

// DefaultRules covers failures on the auth endpoints and rate limiting.
var DefaultRules = map[string]Rule{
	"api.login:fail":     {Threshold: 10, Window: 5 * time.Minute},
	"api.register:fail":  {Threshold: 10, Window: 5 * time.Minute},
	"api.refresh:fail":   {Threshold: 15, Window: 5 * time.Minute},
	"api.logout:fail":    {Threshold: 15, Window: 5 * time.Minute},
	"api.authorize:fail": {Threshold: 25, Window: 5 * time.Minute},
	"*:rate_limited":     {Threshold: 20, Window: time.Minute},
}

// AuditAlerter counts security events per (event, outcome, ip) in Redis.
// A nil alerter observes nothing.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
	rules  map[string]Rule
}

// NewAuditAlerter builds an alerter. nil rules selects DefaultRules.
func NewAuditAlerter(client redis.UniversalClient, prefix string, rules map[string]Rule) (*AuditAlerter, error) {
	if client == nil {
		return nil, errors.New("alerter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "pdfchat:api:alerts"
	}
	if rules == nil {
		rules = DefaultRules
	}
	return &AuditAlerter{client: client, prefix: prefix, rules: rules}, nil
}

// Observe records one event. Triggered is true exactly once per window, on
// the event that reaches the threshold.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	rule, ok := a.rule(event, outcome)
	if !ok || rule.Threshold <= 0 || rule.Window < time.Millisecond {
		return AlertResult{}, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return AlertResult{}, fmt.Errorf("count security event: %w", err)
	}
	return AlertResult{Triggered: count == rule.Threshold, Count: count, Rule: rule}, nil
}

func (a *AuditAlerter) rule(event, outcome string) (Rule, bool) {
	event, outcome = strings.TrimSpace(event), strings.TrimSpace(outcome)
	if r, ok := a.rules[event+":"+outcome]; ok {
		return r, true
	}
	r, ok := a.rules["*:"+outcome]
	return r, ok
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
