package saved

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type SortOrder string

const (
	SortByDate   SortOrder = "date"
	SortByTitle  SortOrder = "title"
	SortByRating SortOrder = "rating"
)

func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case SortByDate, SortByTitle, SortByRating:
		return o, nil
	case "":
		return SortByDate, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// Sort returns a sorted copy of items. Date is newest first, title is
// case-insensitive ascending, rating is highest first with unrated items
// last. Ties keep their input order.
func Sort(items []SavedItem, order SortOrder) []SavedItem {
	out := slices.Clone(items)

	switch order {
	case SortByTitle:
		slices.SortStableFunc(out, func(a, b SavedItem) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	case SortByRating:
		slices.SortStableFunc(out, func(a, b SavedItem) int {
			ra, okA := ratingValue(a)
			rb, okB := ratingValue(b)
			switch {
			case okA && !okB:
				return -1
			case !okA && okB:
				return 1
			case ra > rb:
				return -1
			case ra < rb:
				return 1
			}
			return 0
		})
	default:
		slices.SortStableFunc(out, func(a, b SavedItem) int {
			return b.AddedAt.Compare(a.AddedAt)
		})
	}

	return out
}

func ratingValue(s SavedItem) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s.Rating)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
