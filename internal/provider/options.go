package provider

// Comparison operators accepted by the list filter.
const (
	OpLess    = "<"
	OpGreater = ">"
	OpEqual   = "="
)

// Sort directions accepted by the list ordering.
const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// Export types with gateway-defined semantics. Any other value is passed
// to the adapter as a provider-specific MIME type hint.
const (
	ExportMedia = "media"
	ExportView  = "view"
)

// ListOptions is the query-side value object controlling filtering,
// ordering, content representation, and pagination of a list result. It is
// constructed fresh per request and discarded after the response is
// serialized; the only cross-request state is NextSetToken, which is
// provider-issued and opaque to the gateway.
type ListOptions struct {
	// Filter predicate: keep resources where CompareWith <Operator> Value.
	// Applied only when all three are set.
	CompareWith string
	Operator    string
	Value       string

	// Ordering: applied only when both are set.
	OrderBy   string
	Direction string

	// ExportType hints which content representation to link to.
	ExportType string

	// NextSetToken continues a paginated listing.
	NextSetToken string

	// Limit is a soft cap on items per page; adapters fall back to their
	// own default when zero.
	Limit int
}

// DrainCap resolves the item cap for one listing call: the request's
// Limit when it is positive and tighter than the adapter's configured
// cap, the configured cap otherwise.
func (o ListOptions) DrainCap(configured int) int {
	if o.Limit > 0 && o.Limit < configured {
		return o.Limit
	}

	return configured
}

// HasFilter reports whether a complete filter predicate was supplied.
func (o ListOptions) HasFilter() bool {
	return o.CompareWith != "" && o.Operator != "" && o.Value != ""
}

// HasSort reports whether a complete ordering was supplied.
func (o ListOptions) HasSort() bool {
	return o.OrderBy != "" && o.Direction != ""
}
