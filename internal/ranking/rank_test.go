package ranking

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdRelister/internal/domain"
)

func articlesWithDates(dates ...string) []domain.Article {
	out := make([]domain.Article, len(dates))
	for i, d := range dates {
		out[i] = domain.Article{ID: strconv.Itoa(i + 1), ConfirmationDate: d}
	}
	return out
}

func TestAssignRanksSharedGroups(t *testing.T) {
	t.Parallel()

	ranked := AssignRanks(articlesWithDates("A", "A", "B", "B", "B", "C"), "1")
	require.Len(t, ranked, 6)

	var sharedRanks, sharedCounts []int
	for _, r := range ranked {
		sharedRanks = append(sharedRanks, r.SharedRank)
		sharedCounts = append(sharedCounts, r.SharedCount)
	}
	assert.Equal(t, []int{1, 1, 3, 3, 3, 6}, sharedRanks)
	assert.Equal(t, []int{2, 2, 3, 3, 3, 1}, sharedCounts)
	assert.True(t, ranked[0].IsShared)
	assert.True(t, ranked[4].IsShared)
	assert.False(t, ranked[5].IsShared)
}

func TestAssignRanksIsRunLengthNotGroupBy(t *testing.T) {
	t.Parallel()

	ranked := AssignRanks(articlesWithDates("A", "B", "A"), "")
	for _, r := range ranked {
		assert.Equal(t, 1, r.SharedCount, "article %s", r.ID)
		assert.False(t, r.IsShared)
	}
	assert.Equal(t, 3, ranked[2].SharedRank)
}

func TestAssignRanksMonotonic(t *testing.T) {
	t.Parallel()

	inputs := [][]string{
		{"x"},
		{"b", "a", "c", "a"},
		{"2024-01-02", "2024-01-01", "2024-01-01", "2024-01-03", "2024-01-03"},
	}
	for _, dates := range inputs {
		arts := articlesWithDates(dates...)
		ranked := AssignRanks(arts, "")
		require.Len(t, ranked, len(arts))
		for i, r := range ranked {
			assert.Equal(t, i+1, r.Rank)
			assert.Equal(t, arts[i].ID, r.ID, "input order must be preserved")
		}
	}
}

func TestAssignRanksEdges(t *testing.T) {
	t.Parallel()

	assert.Empty(t, AssignRanks(nil, "1"))

	single := AssignRanks(articlesWithDates("d1"), "1")
	require.Len(t, single, 1)
	assert.Equal(t, 1, single[0].SharedRank)
	assert.Equal(t, 1, single[0].SharedCount)
	assert.False(t, single[0].IsShared)
	assert.Equal(t, 1, single[0].Total)
}

func TestAssignRanksRecordsTotalOnRepresentative(t *testing.T) {
	t.Parallel()

	ranked := AssignRanks(articlesWithDates("a", "b", "c"), "2")
	assert.Equal(t, 0, ranked[0].Total)
	assert.Equal(t, 3, ranked[1].Total)
	assert.Equal(t, 0, ranked[2].Total)
}
