package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
	"AdRelister/internal/ranking"
)

// RankingRequest selects the unit and my ad inside it.
type RankingRequest struct {
	RepresentativeID string
	MyArticleID      string
	// PriceOverride evaluates my ad as if it were listed at this price.
	PriceOverride *string
	// Articles skips the source lookup when the caller already has the unit's ads.
	Articles []domain.Article
}

// RankingService fetches a unit's live ads and analyzes my position among them.
type RankingService struct {
	source   ports.ArticleSource
	analyzer *ranking.Analyzer
	logger   *slog.Logger
}

// NewRankingService wires the article source.
func NewRankingService(source ports.ArticleSource, logger *slog.Logger) *RankingService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RankingService{
		source:   source,
		analyzer: ranking.NewAnalyzer(logger),
		logger:   logger,
	}
}

// AnalyzeRanking returns the competitive analysis of my ad.
func (s *RankingService) AnalyzeRanking(ctx context.Context, req RankingRequest) (domain.RankingAnalysis, error) {
	myID := strings.TrimSpace(req.MyArticleID)
	if myID == "" {
		return domain.RankingAnalysis{}, &domain.ValidationError{Field: "myArticleId", Reason: "must not be empty"}
	}

	articles := req.Articles
	if articles == nil {
		repID := strings.TrimSpace(req.RepresentativeID)
		if repID == "" {
			repID = myID
		}
		if s.source == nil {
			return domain.RankingAnalysis{}, fmt.Errorf("article source is not configured")
		}
		fetched, err := s.source.FetchUnitArticles(ctx, repID)
		if err != nil {
			return domain.RankingAnalysis{}, fmt.Errorf("fetch unit %s articles: %w", repID, err)
		}
		articles = fetched
	}

	analysis := s.analyzer.Analyze(articles, myID, req.PriceOverride)
	s.logger.Debug("ranking analyzed",
		"my_id", myID,
		"total", analysis.TotalCount,
		"competing", len(analysis.CompetingAds),
		"floor_advantage", analysis.HasFloorExposureAdvantage)
	return analysis, nil
}
