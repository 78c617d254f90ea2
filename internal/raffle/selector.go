package raffle

import "github.com/tonkeeper/tongo/ton"

// Pick returns participants[entropy mod len]. ok is false for an empty slice.
func Pick(participants []ton.AccountID, entropy uint64) (winner ton.AccountID, ok bool) {
	if len(participants) == 0 {
		return ton.AccountID{}, false
	}
	return participants[entropy%uint64(len(participants))], true
}
