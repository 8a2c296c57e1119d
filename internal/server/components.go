package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Wikid82/sentinel/backend/internal/alerting"
	"github.com/Wikid82/sentinel/backend/internal/config"
	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
)

func storeConfig(c config.StoreConfig, rl config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		MaxRequests:   c.MaxRequests,
		Window:        c.Window,
		BlockDuration: c.BlockDuration,
		Escalation: ratelimit.Escalation{
			Enabled:    c.Escalation.Enabled,
			Multiplier: c.Escalation.Multiplier,
			MaxBlock:   c.Escalation.MaxBlock,
			ResetAfter: c.Escalation.ResetAfter,
		},
		AuthPaths:   rl.AuthPaths,
		HealthPaths: rl.HealthPaths,
	}
}

// limiterStores maps the configured presets onto the limiter's named stores.
func limiterStores(rl config.RateLimitConfig) map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		ratelimit.StoreGlobal: storeConfig(rl.Global, rl),
		ratelimit.StoreAPI:    storeConfig(rl.API, rl),
		ratelimit.StoreAuth:   storeConfig(rl.Auth, rl),
		ratelimit.StoreAdmin:  storeConfig(rl.Admin, rl),
	}
}

// patternSet extends the built-in signatures with the configured ones.
func patternSet(exprs []string) (*ratelimit.PatternSet, error) {
	ps := append([]ratelimit.Pattern(nil), ratelimit.DefaultPatterns...)
	ps = append(ps, ratelimit.PatternsFromExprs(exprs)...)
	return ratelimit.CompilePatterns(ps)
}

// entryStore opens the configured rate limit backend. The returned client is
// nil for the memory backend.
func entryStore(ctx context.Context, rl config.RateLimitConfig) (ratelimit.EntryStore, *redis.Client, error) {
	if rl.Backend != "redis" {
		return ratelimit.NewMemoryStore(), nil, nil
	}
	opts, err := redis.ParseURL(rl.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse rate_limit.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	store := ratelimit.NewRedisStore(client, ratelimit.WithRetain(rl.Auth.Escalation.ResetAfter))
	if err := store.Ping(ctx); err != nil {
		// the limiter admits requests while the store is down, so startup continues
		logger.Source("ratelimit").WithError(err).Warn("redis rate limit store unreachable")
	}
	return store, client, nil
}

// identityProvider chains the configured credential adapters: bearer or
// cookie JWTs first, then hashed API keys.
func identityProvider(sec config.SecurityConfig) identity.Provider {
	var chain identity.Chain
	if sec.JWTSecret != "" {
		chain = append(chain, identity.NewJWTProvider(sec.JWTSecret, sec.JWTIssuer, sec.SessionCookie))
	}
	if len(sec.APIKeys) > 0 {
		keys := make([]identity.APIKey, 0, len(sec.APIKeys))
		for _, k := range sec.APIKeys {
			keys = append(keys, identity.APIKey{
				Name: k.Name,
				Hash: k.Hash,
				Identity: identity.Identity{
					UserID:         k.UserID,
					Role:           k.Role,
					OrganizationID: k.OrganizationID,
					AccountStatus:  identity.StatusActive,
				},
			})
		}
		chain = append(chain, identity.NewAPIKeyProvider(keys...))
	}
	if len(chain) == 0 {
		logger.Source("identity").Warn("no identity provider configured, admin API is unreachable")
	}
	return chain
}

// alertChannels builds the configured delivery channels. The console channel
// is always registered by the engine.
func alertChannels(a config.AlertsConfig) ([]alerting.Channel, error) {
	var out []alerting.Channel
	if a.Webhook.URL != "" {
		ch, err := alerting.NewWebhookChannel(a.Webhook.URL, a.Webhook.AuthHeader, a.AllowPrivateDestinations)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if a.Slack.WebhookURL != "" {
		ch, err := alerting.NewSlackChannel(a.Slack.WebhookURL, a.Slack.Channel, a.AllowPrivateDestinations)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if a.Email.Host != "" {
		ch, err := alerting.NewEmailChannel(alerting.EmailConfig{
			Host:     a.Email.Host,
			Port:     a.Email.Port,
			Username: a.Email.Username,
			Password: a.Email.Password,
			From:     a.Email.From,
			To:       a.Email.To,
			UseTLS:   a.Email.UseTLS,
		}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	for i, url := range a.Shoutrrr {
		name := alerting.ChannelShoutrrr
		if i > 0 {
			name = fmt.Sprintf("%s_%d", alerting.ChannelShoutrrr, i+1)
		}
		ch, err := alerting.NewShoutrrrChannel(name, url, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
