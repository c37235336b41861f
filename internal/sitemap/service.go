package sitemap

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// Service runs sitemap expansions against the shared quota ledger. One
// point is charged per submitted top-level URL, reserved before crawling
// begins. Crawl-time failures degrade to an empty branch and are not
// refunded; sitemap discovery is billed as spent effort.
type Service struct {
	crawler *Crawler
	owners  scrape.OwnerStore
	logger  *zap.Logger
}

// NewService wires a Crawler to the owner store.
func NewService(crawler *Crawler, owners scrape.OwnerStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{crawler: crawler, owners: owners, logger: logger}
}

// Run validates the candidates, charges quota, and expands the sitemaps.
// Validation failures are returned before the ledger is touched.
func (s *Service) Run(ctx context.Context, ownerID string, candidates []string, doNested bool) ([]string, error) {
	if err := Validate(candidates); err != nil {
		return nil, err
	}
	if _, err := s.owners.Get(ctx, ownerID); err != nil {
		return nil, err
	}
	if err := s.owners.Reserve(ctx, ownerID, len(candidates), 0); err != nil {
		return nil, err
	}

	urls, err := s.crawler.Expand(ctx, candidates, doNested)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sitemap expansion completed",
		zap.String("owner_id", ownerID),
		zap.Int("sitemaps", len(candidates)),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}
