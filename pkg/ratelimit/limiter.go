package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/epimap/geodispatch/pkg/config"
)

// Rule defines a rate limiting policy for a single tier.
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Result captures the outcome of a rate limiting decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
	Window     time.Duration
	ResetAfter time.Duration
	Tier       string
	Identity   string
}

// Limiter implements a Redis-backed token bucket rate limiter keyed by
// subscription tier and caller identity.
type Limiter struct {
	client    redis.Cmdable
	cfg       config.RateLimitConfig
	tierRules map[string]Rule
	script    *redis.Script
	now       func() time.Time
}

const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "timestamp")
local tokens = tonumber(data[1])
local timestamp = tonumber(data[2])

if tokens == nil then
    tokens = capacity
    timestamp = now
else
    if timestamp == nil then
        timestamp = now
    end
    local delta = now - timestamp
    if delta > 0 then
        tokens = math.min(capacity, tokens + (delta * refillRate))
        timestamp = now
    end
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "timestamp", now)
redis.call("PEXPIRE", key, ttl)

local retryAfter = 0
if allowed == 0 then
    retryAfter = math.ceil((1 - tokens) / refillRate)
end

return {allowed, tokens, retryAfter}
`

// NewLimiter creates a new Limiter. Tier limits come from the tier catalog;
// tiers without an explicit limit fall back to the configured defaults.
func NewLimiter(client redis.Cmdable, cfg config.RateLimitConfig, tiers []config.TierConfig) *Limiter {
	rules := make(map[string]Rule, len(tiers))
	for _, tier := range tiers {
		if tier.RateLimit <= 0 {
			continue
		}
		burst := tier.RateBurst
		if burst < 0 {
			burst = 0
		}
		rules[tier.Name] = Rule{Limit: tier.RateLimit, Burst: burst, Window: cfg.Window()}
	}

	return &Limiter{
		client:    client,
		cfg:       cfg,
		tierRules: rules,
		script:    redis.NewScript(tokenBucketScript),
		now:       time.Now,
	}
}

// RuleFor determines the effective rule for the provided tier.
func (l *Limiter) RuleFor(tier string) Rule {
	if rule, ok := l.tierRules[tier]; ok {
		return rule
	}
	return Rule{Limit: l.cfg.DefaultLimit, Burst: l.cfg.DefaultBurst, Window: l.cfg.Window()}
}

// Allow determines whether the request should be allowed for the provided
// tier and identity.
func (l *Limiter) Allow(ctx context.Context, tier, identity string, rule Rule) (Result, error) {
	if !l.cfg.Enabled || rule.Limit <= 0 {
		return Result{
			Allowed:   true,
			Remaining: rule.Limit,
			Limit:     rule.Limit,
			Window:    rule.Window,
			Tier:      tier,
			Identity:  identity,
		}, nil
	}

	if rule.Window <= 0 {
		rule.Window = l.cfg.Window()
	}

	key := fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, tier, identity)

	now := l.now().UnixMilli()
	windowMillis := rule.Window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = int64(time.Minute / time.Millisecond)
	}

	refillRate := float64(rule.Limit) / float64(windowMillis)
	if refillRate <= 0 {
		refillRate = 1.0 / float64(windowMillis)
	}

	capacity := float64(rule.Limit + rule.Burst)
	if capacity < 1 {
		capacity = 1
	}

	ttl := windowMillis * 2
	if ttl <= 0 {
		ttl = windowMillis
	}

	cmd := l.script.Run(ctx, l.client, []string{key}, now, formatFloat(refillRate), formatFloat(capacity), ttl)
	raw, err := cmd.Result()
	if err != nil {
		return Result{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, errors.New("unexpected script response")
	}

	allowed := toInt(values[0])
	remainingTokens := toFloat(values[1])
	retryAfterMillis := toInt(values[2])

	return Result{
		Allowed:    allowed == 1,
		Remaining:  int(math.Max(0, math.Floor(remainingTokens))),
		RetryAfter: time.Duration(retryAfterMillis) * time.Millisecond,
		Limit:      rule.Limit,
		Window:     rule.Window,
		ResetAfter: time.Duration(retryAfterMillis) * time.Millisecond,
		Tier:       tier,
		Identity:   identity,
	}, nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func toInt(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case int64:
		return float64(v)
	case string:
		parsed, _ := strconv.ParseFloat(v, 64)
		return parsed
	case float64:
		return v
	default:
		return 0
	}
}
