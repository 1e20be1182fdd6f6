package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobchat/pkg/config"
	"jobchat/pkg/logger"
)

const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionTyping      = "typing"
	ActionReaction    = "reaction"
	ActionHTTP        = "http"
)

// Rule allows Burst events at once and refills one every Every.
type Rule struct {
	Every time.Duration
	Burst int
}

func PerMinute(n int) Rule {
	if n < 1 {
		n = 1
	}
	return Rule{Every: time.Minute / time.Duration(n), Burst: n}
}

func PerHour(n int) Rule {
	if n < 1 {
		n = 1
	}
	return Rule{Every: time.Hour / time.Duration(n), Burst: n}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	rules    map[string]Rule
	fallback Rule
	limiters map[string]*limiterEntry
	mutex    sync.Mutex
}

func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		fallback: PerMinute(60),
		limiters: make(map[string]*limiterEntry),
	}
}

// NewFromConfig builds the limits applied to chat actions.
func NewFromConfig(cfg *config.Config) *RateLimiter {
	return NewRateLimiter(map[string]Rule{
		ActionSendMessage: PerMinute(cfg.SendRatePerMinute),
		ActionTyping:      PerMinute(cfg.TypingRatePerMinute),
		ActionCreateChat:  PerHour(cfg.CreateChatPerHour),
		ActionReaction:    PerMinute(60),
		ActionHTTP:        PerMinute(120),
	})
}

func (rl *RateLimiter) entry(key, action string) *limiterEntry {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	e, ok := rl.limiters[key]
	if !ok {
		rule, found := rl.rules[action]
		if !found {
			rule = rl.fallback
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(rule.Every), rule.Burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e
}

// Allow consumes a token if one is available. Otherwise it reports how
// long the caller should wait before trying again.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	e := rl.entry(userID+":"+action, action)

	reservation := e.limiter.Reserve()
	if !reservation.OK() {
		return false, 0
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

// Cleanup drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
				logger.Debug("Rate limiter cleanup done")
			}
		}
	}()
}
