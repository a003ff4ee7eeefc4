package normalization

import (
	"sort"

	"lending-lab/internal/domain"
)

// SortStates orders snapshots by (market_id ASC, timestamp ASC). This is the
// canonical order every downstream consumer assumes.
func SortStates(states []*domain.MarketState) {
	sort.Slice(states, func(i, j int) bool {
		return compareStates(states[i], states[j]) < 0
	})
}

// DedupeStates drops snapshots repeating a (market_id, timestamp) key,
// keeping the first occurrence. Input must already be in canonical order.
func DedupeStates(states []*domain.MarketState) []*domain.MarketState {
	if len(states) < 2 {
		return states
	}
	out := states[:1]
	for _, st := range states[1:] {
		last := out[len(out)-1]
		if st.MarketID == last.MarketID && st.Timestamp == last.Timestamp {
			continue
		}
		out = append(out, st)
	}
	return out
}

// compareStates returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareStates(a, b *domain.MarketState) int {
	if a.MarketID != b.MarketID {
		if a.MarketID < b.MarketID {
			return -1
		}
		return 1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	return 0
}
