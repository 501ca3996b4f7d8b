package provider

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Apply runs the declarative filter and sort from opts over a flat resource
// list. Pure function: no I/O, deterministic for a given input order. Ties
// under the sort comparison are broken arbitrarily; callers must not rely
// on stability beyond the comparison itself.
//
// Every list implementation calls this just before returning.
func Apply(resources []Resource, opts ListOptions) ([]Resource, error) {
	out := resources

	if opts.HasFilter() {
		filtered, err := filter(out, opts)
		if err != nil {
			return nil, err
		}

		out = filtered
	}

	if opts.HasSort() {
		if err := sortResources(out, opts); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func filter(resources []Resource, opts ListOptions) ([]Resource, error) {
	if opts.Operator != OpLess && opts.Operator != OpGreater && opts.Operator != OpEqual {
		return nil, Errorf(ErrBadRequest, "unknown filter operator %q", opts.Operator)
	}

	kept := make([]Resource, 0, len(resources))

	for _, r := range resources {
		cmp, err := compareField(r, opts.CompareWith, opts.Value)
		if err != nil {
			return nil, err
		}

		keep := false

		switch opts.Operator {
		case OpLess:
			keep = cmp < 0
		case OpGreater:
			keep = cmp > 0
		case OpEqual:
			keep = cmp == 0
		}

		if keep {
			kept = append(kept, r)
		}
	}

	return kept, nil
}

// compareField compares a resource's field against a raw query value under
// the field's coercion rules: path by segment depth, size numerically,
// timestamps as parsed dates, everything else lexicographically.
func compareField(r Resource, field, value string) (int, error) {
	switch field {
	case "path":
		want, err := strconv.Atoi(value)
		if err != nil {
			return 0, Errorf(ErrBadRequest, "filter value %q is not a path depth", value)
		}

		return Depth(r.Path) - want, nil

	case "size":
		want, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, Errorf(ErrBadRequest, "filter value %q is not a size", value)
		}

		return compareInt64(r.Size, want), nil

	case "createdAtTime", "lastModifiedTime":
		want, err := parseWhen(value)
		if err != nil {
			return 0, Errorf(ErrBadRequest, "filter value %q is not a timestamp", value)
		}

		have, err := parseWhen(fieldString(r, field))
		if err != nil {
			// Resources with no timestamp sort before any concrete time.
			return -1, nil
		}

		return have.Compare(want), nil

	case "name", "kind", "provider", "mimeType", "contentUri":
		return strings.Compare(fieldString(r, field), value), nil

	default:
		return 0, Errorf(ErrBadRequest, "unknown filter field %q", field)
	}
}

func sortResources(resources []Resource, opts ListOptions) error {
	less, err := lessFunc(opts.OrderBy)
	if err != nil {
		return err
	}

	sort.Slice(resources, func(i, j int) bool {
		if opts.Direction == DirectionDesc {
			return less(resources[j], resources[i])
		}

		return less(resources[i], resources[j])
	})

	return nil
}

// lessFunc returns the ascending comparison for a sortable field, applying
// the same coercion rules as filtering.
func lessFunc(field string) (func(a, b Resource) bool, error) {
	switch field {
	case "path":
		return func(a, b Resource) bool { return Depth(a.Path) < Depth(b.Path) }, nil

	case "size":
		return func(a, b Resource) bool { return a.Size < b.Size }, nil

	case "createdAtTime", "lastModifiedTime":
		return func(a, b Resource) bool {
			at, aerr := parseWhen(fieldString(a, field))
			bt, berr := parseWhen(fieldString(b, field))

			if aerr != nil {
				return berr == nil
			}

			if berr != nil {
				return false
			}

			return at.Before(bt)
		}, nil

	case "name", "kind", "provider", "mimeType", "contentUri":
		return func(a, b Resource) bool {
			return fieldString(a, field) < fieldString(b, field)
		}, nil

	default:
		return nil, Errorf(ErrBadRequest, "unknown sort field %q", field)
	}
}

func fieldString(r Resource, field string) string {
	switch field {
	case "name":
		return r.Name
	case "path":
		return r.Path
	case "kind":
		return string(r.Kind)
	case "provider":
		return r.Provider
	case "mimeType":
		return r.MimeType
	case "createdAtTime":
		return r.CreatedAtTime
	case "lastModifiedTime":
		return r.LastModifiedTime
	case "contentUri":
		return r.ContentURI
	default:
		return ""
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// whenLayouts are the timestamp formats accepted from both providers and
// query values, tried in order.
var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseWhen(s string) (time.Time, error) {
	var lastErr error

	for _, layout := range whenLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}
