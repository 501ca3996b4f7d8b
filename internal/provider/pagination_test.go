package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedFetcher fakes a remote listing split into fixed pages keyed by the
// continuation token that reaches them.
func pagedFetcher(pages map[string]Page[int], calls *[]string) func(context.Context, string) (Page[int], error) {
	return func(_ context.Context, token string) (Page[int], error) {
		*calls = append(*calls, token)

		page, ok := pages[token]
		if !ok {
			return Page[int]{}, errors.New("unknown token")
		}

		return page, nil
	}
}

func TestDrainPagesAccumulatesUntilExhausted(t *testing.T) {
	var calls []string

	fetch := pagedFetcher(map[string]Page[int]{
		"":   {Items: []int{1, 2}, NextToken: "p2"},
		"p2": {Items: []int{3}, NextToken: "p3"},
		"p3": {Items: []int{4, 5}, NextToken: ""},
	}, &calls)

	items, token, err := DrainPages(context.Background(), "", 50, fetch)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
	assert.Empty(t, token)
	assert.Equal(t, []string{"", "p2", "p3"}, calls, "pages must be fetched strictly in sequence")
}

func TestDrainPagesStopsAtCap(t *testing.T) {
	var calls []string

	fetch := pagedFetcher(map[string]Page[int]{
		"":   {Items: []int{1, 2, 3}, NextToken: "p2"},
		"p2": {Items: []int{4, 5, 6}, NextToken: "p3"},
	}, &calls)

	items, token, err := DrainPages(context.Background(), "", 4, fetch)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, items, "the page that crossed the cap is kept whole")
	assert.Equal(t, "p3", token, "residual token hands the rest to the next request")
	assert.Len(t, calls, 2)
}

func TestDrainPagesResumesFromToken(t *testing.T) {
	var calls []string

	fetch := pagedFetcher(map[string]Page[int]{
		"p2": {Items: []int{3, 4}, NextToken: ""},
	}, &calls)

	items, token, err := DrainPages(context.Background(), "p2", 50, fetch)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, items)
	assert.Empty(t, token)
}

func TestDrainPagesFailureDiscardsPartialResults(t *testing.T) {
	var calls []string

	fetch := pagedFetcher(map[string]Page[int]{
		"": {Items: []int{1, 2}, NextToken: "missing"},
	}, &calls)

	items, token, err := DrainPages(context.Background(), "", 50, fetch)
	require.Error(t, err)

	assert.Nil(t, items, "a mid-drain failure must not leak partial pages")
	assert.Empty(t, token)
}

func TestDrainPagesZeroCapUsesDefault(t *testing.T) {
	fetch := func(_ context.Context, _ string) (Page[int], error) {
		return Page[int]{Items: make([]int, DefaultPageCap), NextToken: "more"}, nil
	}

	items, token, err := DrainPages(context.Background(), "", 0, fetch)
	require.NoError(t, err)

	assert.Len(t, items, DefaultPageCap)
	assert.Equal(t, "more", token)
}
