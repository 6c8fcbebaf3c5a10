package services

import (
	"context"
	"time"

	"github.com/poofware/attestation-service/internal/repositories"
	"github.com/poofware/attestation-service/internal/utils"
)

// Windows older than this carry no useful counter state.
const rateLimitRetention = 24 * time.Hour

type RateLimitCleanupService struct {
	repo repositories.RateLimitRepository
}

func NewRateLimitCleanupService(repo repositories.RateLimitRepository) *RateLimitCleanupService {
	return &RateLimitCleanupService{repo: repo}
}

func (s *RateLimitCleanupService) CleanupDaily(ctx context.Context) error {
	if err := s.repo.CleanupExpired(ctx, rateLimitRetention); err != nil {
		return err
	}
	utils.Logger.Info("Rate limit counter cleanup completed")
	return nil
}
