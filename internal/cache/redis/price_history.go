package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// PriceHistory implements domain.PriceHistory with one sorted set per
// subject at "prices:{subject}". Scores are unix milliseconds and members
// are "{ms}|{value}". Observations older than the retention are trimmed on
// write.
type PriceHistory struct {
	c         *Client
	retention time.Duration
}

// NewPriceHistory creates a PriceHistory. A zero retention keeps everything.
func NewPriceHistory(c *Client, retention time.Duration) *PriceHistory {
	return &PriceHistory{c: c, retention: retention}
}

// Record stores obs, replacing any observation with the same millisecond.
func (h *PriceHistory) Record(ctx context.Context, obs domain.Observation) error {
	if obs.Subject == "" {
		return fmt.Errorf("redis: record observation: empty subject: %w", domain.ErrInvalidParameters)
	}
	key := h.c.key("prices", obs.Subject)
	ms := obs.ObservedAt.UnixMilli()
	score := strconv.FormatInt(ms, 10)

	pipe := h.c.Underlying().TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: score + "|" + obs.Value.String()})
	if h.retention > 0 {
		cutoff := obs.ObservedAt.Add(-h.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record observation %s: %w", obs.Subject, err)
	}
	return nil
}

// FirstAtOrAfter returns the earliest observation at or after at.
func (h *PriceHistory) FirstAtOrAfter(ctx context.Context, subject string, at time.Time) (domain.Observation, error) {
	minMS := at.UnixMilli()
	if at.Sub(time.UnixMilli(minMS)) > 0 {
		minMS++
	}
	members, err := h.c.Underlying().ZRangeByScore(ctx, h.c.key("prices", subject), &redis.ZRangeBy{
		Min:   strconv.FormatInt(minMS, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: observation %s: %w", subject, err)
	}
	if len(members) == 0 {
		return domain.Observation{}, fmt.Errorf("redis: observation %s at %s: %w", subject, at.Format(time.RFC3339), domain.ErrNotFound)
	}
	return parseMember(subject, members[0])
}

// Latest returns the newest observation of subject.
func (h *PriceHistory) Latest(ctx context.Context, subject string) (domain.Observation, error) {
	members, err := h.c.Underlying().ZRevRange(ctx, h.c.key("prices", subject), 0, 0).Result()
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: latest %s: %w", subject, err)
	}
	if len(members) == 0 {
		return domain.Observation{}, fmt.Errorf("redis: latest %s: %w", subject, domain.ErrNotFound)
	}
	return parseMember(subject, members[0])
}

func parseMember(subject, member string) (domain.Observation, error) {
	msStr, valStr, ok := strings.Cut(member, "|")
	if !ok {
		return domain.Observation{}, fmt.Errorf("redis: malformed observation %q", member)
	}
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: parse observation time %q: %w", member, err)
	}
	value, err := decimal.NewFromString(valStr)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: parse observation value %q: %w", member, err)
	}
	return domain.Observation{Subject: subject, Value: value, ObservedAt: time.UnixMilli(ms).UTC()}, nil
}

var _ domain.PriceHistory = (*PriceHistory)(nil)
