package provider

import "context"

// DefaultPageCap bounds how many items a single list call accumulates
// before handing the residual continuation token back to the caller.
// Bounded latency per HTTP request is preferred over exhaustive listing;
// clients paginate across requests with nextSetToken.
const DefaultPageCap = 50

// Page is one remote listing page: its items plus the provider-issued
// continuation token ("" when the listing is exhausted).
type Page[T any] struct {
	Items     []T
	NextToken string
}

// DrainPages repeatedly fetches pages starting from startToken until the
// provider stops issuing continuation tokens or the accumulated item count
// reaches cap. Fetches are strictly sequential: each page's token is the
// next fetch's input. Any page failure aborts the whole drain with no
// partial results.
//
// The returned token is "" when the listing is exhausted; otherwise it is
// the cursor for the next drain.
func DrainPages[T any](
	ctx context.Context,
	startToken string,
	cap int,
	fetch func(ctx context.Context, token string) (Page[T], error),
) ([]T, string, error) {
	if cap <= 0 {
		cap = DefaultPageCap
	}

	var items []T

	token := startToken

	for {
		page, err := fetch(ctx, token)
		if err != nil {
			return nil, "", err
		}

		items = append(items, page.Items...)
		token = page.NextToken

		if token == "" || len(items) >= cap {
			return items, token, nil
		}
	}
}
