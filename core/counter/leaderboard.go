package counter

import "github.com/ethereum/go-ethereum/common"

// UpdateLeaderboard applies one score change to the bounded top-N sequence and
// returns the updated sequence. The input is mutated in place; the returned
// slice must replace it.
//
// The sequence stays sorted by score descending, holds at most
// LeaderboardCapacity entries and each address at most once. Comparison uses
// strict >, so entries with equal scores keep their relative order.
func UpdateLeaderboard(entries []Entry, addr common.Address, score uint64) []Entry {
	for i := range entries {
		if entries[i].Address == addr {
			entries[i].Score = score
			bubbleLeft(entries, i)
			return entries
		}
	}
	if len(entries) < LeaderboardCapacity {
		entries = append(entries, Entry{Address: addr, Score: score})
		bubbleLeft(entries, len(entries)-1)
		return entries
	}
	// Full board: the newcomer must strictly beat the current minimum.
	last := len(entries) - 1
	if score <= entries[last].Score {
		return entries
	}
	entries[last] = Entry{Address: addr, Score: score}
	bubbleLeft(entries, last)
	return entries
}

func bubbleLeft(entries []Entry, i int) {
	for i > 0 && entries[i].Score > entries[i-1].Score {
		entries[i], entries[i-1] = entries[i-1], entries[i]
		i--
	}
}
