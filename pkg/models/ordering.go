package models

import "sort"

// CompareMessages is the canonical display-order comparator: creation time
// first, then lexicographic id so the order is total and stable sorts are
// deterministic. Messages without an id compare as empty string.
func CompareMessages(a, b Message) int {
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// SortMessages sorts msgs in place using CompareMessages. Sorting an
// already-sorted slice is a no-op.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return CompareMessages(msgs[i], msgs[j]) < 0
	})
}
