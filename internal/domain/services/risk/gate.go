package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/infrastructure/cache"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

// Rule names recorded on a blocked deposit so operators can see which
// threshold tripped.
const (
	RuleMaxCreditsPerHour = "max_credits_per_hour"
	RuleMaxStarsPerDay    = "max_stars_per_day"
	RuleMinCreditInterval = "min_credit_interval"
)

// Decision is the outcome of one evaluation
type Decision struct {
	Allowed bool
	Rule    string
	Detail  string
}

// Allow returns a passing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

type creditHistory interface {
	CountTopupCreditsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	SumCreditedStarsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	LastTopupCreditAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}

// Gate enforces per-user rate and volume thresholds before crediting.
// A tripped rule never fails the deposit; it parks it for review.
type Gate struct {
	history creditHistory
	cache   cache.RedisClient
	cfg     config.RiskConfig
	logger  *logger.Logger
}

// NewGate creates a risk gate. cache may be nil; the redis counters are a
// fast pre-check only and the ledger stays authoritative.
func NewGate(history creditHistory, cache cache.RedisClient, cfg config.RiskConfig, logger *logger.Logger) *Gate {
	return &Gate{history: history, cache: cache, cfg: cfg, logger: logger}
}

// Evaluate checks every configured rule against the credit about to happen.
// pendingStars is the amount the caller intends to add; the daily volume rule
// counts it so a single oversized credit cannot clear an empty history. A
// zero threshold disables its rule.
func (g *Gate) Evaluate(ctx context.Context, userID uuid.UUID, pendingStars int64, now time.Time) (Decision, error) {
	if g.cfg.MaxCreditsPerHour > 0 {
		if blocked := g.cachedCountExceeded(ctx, userID, now); blocked {
			return Decision{Rule: RuleMaxCreditsPerHour, Detail: "hourly credit counter exceeded"}, nil
		}

		count, err := g.history.CountTopupCreditsSince(ctx, userID, now.Add(-time.Hour))
		if err != nil {
			return Decision{}, fmt.Errorf("count recent credits: %w", err)
		}
		if count >= g.cfg.MaxCreditsPerHour {
			return Decision{
				Rule:   RuleMaxCreditsPerHour,
				Detail: fmt.Sprintf("%d credits in the last hour, limit %d", count, g.cfg.MaxCreditsPerHour),
			}, nil
		}
	}

	if g.cfg.MaxStarsPerDay > 0 {
		stars, err := g.history.SumCreditedStarsSince(ctx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return Decision{}, fmt.Errorf("sum recent credited stars: %w", err)
		}
		if stars+pendingStars > g.cfg.MaxStarsPerDay {
			return Decision{
				Rule:   RuleMaxStarsPerDay,
				Detail: fmt.Sprintf("%d stars credited in the last day plus %d pending, limit %d", stars, pendingStars, g.cfg.MaxStarsPerDay),
			}, nil
		}
	}

	if g.cfg.MinSecondsBetweenCredits > 0 {
		last, err := g.history.LastTopupCreditAt(ctx, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("get last credit time: %w", err)
		}
		minGap := time.Duration(g.cfg.MinSecondsBetweenCredits) * time.Second
		if last != nil && now.Sub(*last) < minGap {
			return Decision{
				Rule:   RuleMinCreditInterval,
				Detail: fmt.Sprintf("last credit %s ago, minimum gap %s", now.Sub(*last).Round(time.Second), minGap),
			}, nil
		}
	}

	return Allow(), nil
}

// RecordCredit bumps the redis hourly counter after a successful credit.
// Best effort; a cache failure is logged and ignored.
func (g *Gate) RecordCredit(ctx context.Context, userID uuid.UUID, now time.Time) {
	if g.cache == nil {
		return
	}

	key := g.hourlyKey(userID, now)
	if _, err := g.cache.Incr(ctx, key); err != nil {
		g.logger.Warn("risk counter increment failed", "error", err, "user_id", userID)
		return
	}
	if err := g.cache.Expire(ctx, key, 2*time.Hour); err != nil {
		g.logger.Warn("risk counter expire failed", "error", err, "user_id", userID)
	}
}

// cachedCountExceeded consults the redis counter as a cheap pre-check.
// Any cache problem means "not exceeded" and the ledger query decides.
func (g *Gate) cachedCountExceeded(ctx context.Context, userID uuid.UUID, now time.Time) bool {
	if g.cache == nil {
		return false
	}

	var count int
	if err := g.cache.Get(ctx, g.hourlyKey(userID, now), &count); err != nil {
		return false
	}
	return count >= g.cfg.MaxCreditsPerHour
}

func (g *Gate) hourlyKey(userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("risk:credits:%s:%s", userID, now.UTC().Format("2006010215"))
}
