package repositories

import (
	"context"
	"fmt"
	"time"
)

// RateLimitRepository backs the per-IP request budget on the attestation
// routes with a fixed-window counter table.
type RateLimitRepository interface {
	// IncrementAndCheck bumps the counter for key and reports whether the
	// caller is still within limit for the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// CleanupExpired removes counters whose window closed before cutoff.
	CleanupExpired(ctx context.Context, cutoff time.Duration) error
}

type rateLimitRepo struct {
	db DB
}

func NewRateLimitRepository(db DB) RateLimitRepository {
	return &rateLimitRepo{db: db}
}

func (r *rateLimitRepo) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	// Reset-or-increment in one statement so concurrent requests cannot
	// lose updates between a read and a write.
	q := `
INSERT INTO rate_limit_counters (key, window_start, count)
VALUES ($1, NOW(), 1)
ON CONFLICT (key) DO UPDATE SET
    count = CASE
        WHEN rate_limit_counters.window_start < NOW() - $2::interval THEN 1
        ELSE rate_limit_counters.count + 1
    END,
    window_start = CASE
        WHEN rate_limit_counters.window_start < NOW() - $2::interval THEN NOW()
        ELSE rate_limit_counters.window_start
    END
RETURNING count
`
	var count int
	if err := r.db.QueryRow(ctx, q, key, window.String()).Scan(&count); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return count <= limit, nil
}

func (r *rateLimitRepo) CleanupExpired(ctx context.Context, cutoff time.Duration) error {
	q := `DELETE FROM rate_limit_counters WHERE window_start < NOW() - $1::interval`
	_, err := r.db.Exec(ctx, q, cutoff.String())
	return err
}
