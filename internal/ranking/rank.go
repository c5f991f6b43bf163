package ranking

import "AdRelister/internal/domain"

// AssignRanks ranks articles by their position in the platform's display order. Consecutive
// articles with the same confirmation date form a shared-rank group. The input order is never
// changed; Total is recorded on the article whose id equals representativeID.
func AssignRanks(articles []domain.Article, representativeID string) []domain.RankedArticle {
	ranked := make([]domain.RankedArticle, len(articles))
	for i, art := range articles {
		ranked[i] = domain.RankedArticle{Article: art, Rank: i + 1}
	}

	for start := 0; start < len(ranked); {
		end := start + 1
		for end < len(ranked) && ranked[end].ConfirmationDate == ranked[start].ConfirmationDate {
			end++
		}

		size := end - start
		for i := start; i < end; i++ {
			ranked[i].SharedRank = start + 1
			ranked[i].SharedCount = size
			ranked[i].IsShared = size > 1
		}
		start = end
	}

	for i := range ranked {
		if ranked[i].ID == representativeID {
			ranked[i].Total = len(ranked)
		}
	}

	return ranked
}
