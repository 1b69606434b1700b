package service

import (
	"slices"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

// SelectForDeletion picks up to n units to delete. Sold units are filtered out
// first, the rest are ordered by creation time and the oldest n are taken.
// Units created at the same instant keep their input order.
func SelectForDeletion(units []domain.Unit, n int) []domain.Unit {
	if n <= 0 {
		return nil
	}

	candidates := make([]domain.Unit, 0, len(units))
	for _, u := range units {
		if u.Tag != domain.TagSold {
			candidates = append(candidates, u)
		}
	}

	slices.SortStableFunc(candidates, func(a, b domain.Unit) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

func unitIDs(units []domain.Unit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

func unitCodes(units []domain.Unit) []string {
	codes := make([]string, len(units))
	for i, u := range units {
		codes[i] = u.Code
	}
	return codes
}

func countTag(units []domain.Unit, tag domain.Tag) int {
	n := 0
	for _, u := range units {
		if u.Tag == tag {
			n++
		}
	}
	return n
}
