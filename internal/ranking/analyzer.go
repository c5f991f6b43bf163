package ranking

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"AdRelister/internal/domain"
)

var exposedFloorExpr = regexp.MustCompile(`^\d+/\d+$`)

// IsFloorExposed reports whether floor text shows a literal "current/total" pair such as "12/25".
// Bucketed forms like "고/25" are treated as hidden.
func IsFloorExposed(floorText string) bool {
	return exposedFloorExpr.MatchString(strings.TrimSpace(floorText))
}

// Analyzer computes competitive analyses for one unit's ads.
type Analyzer struct {
	prices Normalizer
	logger *slog.Logger
}

// NewAnalyzer wires the price normalizer with an optional logger.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{prices: NewNormalizer(logger), logger: logger}
}

// Analyze compares my ad against every other ad on the same unit. articles must be in display
// order. myPriceOverride replaces my listed price when set (e.g. a price planned for re-upload).
func (a *Analyzer) Analyze(articles []domain.Article, myID string, myPriceOverride *string) domain.RankingAnalysis {
	analysis := domain.RankingAnalysis{CompetingAds: []domain.CompetingAd{}}
	if len(articles) == 0 {
		return analysis
	}

	ranked := AssignRanks(articles, myID)
	myIdx := -1
	for i := range ranked {
		if ranked[i].ID == myID {
			myIdx = i
			break
		}
	}
	if myIdx < 0 {
		a.debug("article not found in unit", "my_id", myID, "articles", len(articles))
		return analysis
	}

	mine := ranked[myIdx]
	myArticle := mine.Article
	myRanking := mine.Rank
	myFloorExposed := IsFloorExposed(mine.FloorText)

	priceText := mine.PriceText
	if myPriceOverride != nil {
		priceText = *myPriceOverride
	}
	myPrice := a.prices.Normalize(priceText)

	competitors := make(map[string]domain.CompetingAd)
	floorCompetitors := 0

	for i, other := range ranked {
		if i == myIdx || other.ID == myID {
			continue
		}
		otherPrice := a.prices.Normalize(other.PriceText)
		otherExposed := IsFloorExposed(other.FloorText)

		isPriceCompetitor := otherPrice != myPrice
		isFloorCompetitor := !myFloorExposed && otherExposed
		if isFloorCompetitor {
			floorCompetitors++
			if !isPriceCompetitor {
				a.debug("exposed competitor at equal price", "my_id", myID, "competitor_id", other.ID)
			}
		}
		if !isPriceCompetitor && !isFloorCompetitor {
			continue
		}
		if _, seen := competitors[other.ID]; seen {
			continue
		}

		comparable := myPrice != 0 && otherPrice != 0
		competitors[other.ID] = domain.CompetingAd{
			ID:               other.ID,
			Ranking:          other.Rank,
			PriceText:        other.PriceText,
			FloorText:        other.FloorText,
			IsFloorExposed:   otherExposed,
			ConfirmationDate: other.ConfirmationDate,
			BrokerName:       other.BrokerName,
			IsPriceLower:     comparable && otherPrice < myPrice,
			IsPriceHigher:    comparable && otherPrice > myPrice,
		}
	}

	competing := make([]domain.CompetingAd, 0, len(competitors))
	for _, ad := range competitors {
		competing = append(competing, ad)
	}
	sort.SliceStable(competing, func(i, j int) bool {
		return competing[i].Ranking < competing[j].Ranking
	})

	analysis.MyArticle = &myArticle
	analysis.MyRanking = &myRanking
	analysis.MyFloorExposed = myFloorExposed
	analysis.TotalCount = len(ranked)
	analysis.CompetingAds = competing
	analysis.HasFloorExposureAdvantage = !myFloorExposed && floorCompetitors > 0

	return analysis
}

func (a *Analyzer) debug(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
