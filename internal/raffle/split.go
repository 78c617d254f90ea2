package raffle

import "math/bits"

type Split struct {
	Fee       Balance
	Stake     Balance
	Organizer Balance
}

// SplitPayment divides paid into floored fee and stake shares and gives the
// remainder to the organizer. feePercent+stakePercent must not exceed 100.
func SplitPayment(paid Balance, feePercent, stakePercent uint8) Split {
	fee := percentOf(paid, feePercent)
	stake := percentOf(paid, stakePercent)
	return Split{
		Fee:       fee,
		Stake:     stake,
		Organizer: paid - fee - stake,
	}
}

func percentOf(amount Balance, percent uint8) Balance {
	if percent > 100 {
		percent = 100
	}
	hi, lo := bits.Mul64(amount, uint64(percent))
	quo, _ := bits.Div64(hi, lo, 100)
	return quo
}
