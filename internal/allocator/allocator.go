// Package allocator deducts sale quantities from a product's expiry-dated
// lots using an earliest-expiry-first policy.
package allocator

import (
	"slices"

	"minimercado/backend/internal/domain"
)

// Allocate deducts requested units from lots, consuming earliest-expiring
// lots first. Lots without an expiry date are consumed last; ties fall back
// to received order, then id, so the walk is deterministic for any input
// order. The input slice is never mutated.
//
// Zero-quantity lots are pruned from the result. When the lots cannot cover
// the request, everything available is deducted and the uncovered remainder
// is returned as shortfall; rejecting or allowing the underlying operation is
// the caller's decision.
func Allocate(lots []domain.Lot, requested int) (updated []domain.Lot, shortfall int) {
	if requested < 0 {
		requested = 0
	}

	working := make([]domain.Lot, len(lots))
	copy(working, lots)
	slices.SortStableFunc(working, CompareLots)

	remaining := requested
	result := make([]domain.Lot, 0, len(working))
	for _, lot := range working {
		if remaining > 0 && lot.Quantity > 0 {
			used := min(lot.Quantity, remaining)
			lot.Quantity -= used
			remaining -= used
		}
		if lot.Quantity > 0 {
			result = append(result, lot)
		}
	}

	return result, remaining
}

// TotalQuantity sums positive lot quantities; the product stock invariant is
// stock == TotalQuantity(lots).
func TotalQuantity(lots []domain.Lot) int {
	total := 0
	for _, lot := range lots {
		if lot.Quantity > 0 {
			total += lot.Quantity
		}
	}
	return total
}

// CompareLots orders lots for consumption: dated before undated, earlier
// expiry first, then received time, then id.
func CompareLots(a domain.Lot, b domain.Lot) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	if a.ID == b.ID {
		return 0
	}
	if a.ID < b.ID {
		return -1
	}
	return 1
}
