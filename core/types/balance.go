package types

import "math/big"

// Balance is a pair of (amount, payout target) slots. By convention index
// 0 is Alice's slot and index 1 is Bob's, matching the channel's fixed
// participant ordering (§3: "Participants are ordered... The ordering is
// fixed at setup and never swaps").
type Balance struct {
	Amount [2]*big.Int
	To     [2]Address
}

// ZeroBalance returns a balance of two zero amounts paid to the given
// participants.
func ZeroBalance(alice, bob Address) Balance {
	return Balance{
		Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		To:     [2]Address{alice, bob},
	}
}

// Clone returns a deep copy so callers mutating the result never alias
// the *big.Int backing an existing channel/transfer state. The Applier
// depends on this: it must never mutate prevChannel in place.
func (b Balance) Clone() Balance {
	return Balance{
		Amount: [2]*big.Int{
			new(big.Int).Set(b.Amount[0]),
			new(big.Int).Set(b.Amount[1]),
		},
		To: b.To,
	}
}

// Sum returns amount[0] + amount[1].
func (b Balance) Sum() *big.Int {
	return new(big.Int).Add(b.Amount[0], b.Amount[1])
}

// Equal reports whether two balances carry identical amounts and payout
// targets.
func (b Balance) Equal(o Balance) bool {
	return b.Amount[0].Cmp(o.Amount[0]) == 0 &&
		b.Amount[1].Cmp(o.Amount[1]) == 0 &&
		b.To[0] == o.To[0] && b.To[1] == o.To[1]
}
