package oracle

import (
	"fmt"
	"math/big"
)

// Credit is a single past or current loan in a user's credit history.
type Credit struct {
	Sum          *big.Int
	InterestRate *big.Int
	// Time is the term of the credit in months.
	Time     *big.Int
	IsClosed bool
}

// History is the credit history the oracle serves for a user. Debts is nil
// when the user has no outstanding debt on record.
type History struct {
	Debts   *big.Int
	Credits []Credit
}

// Clone returns a deep copy of the history.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	out := &History{Credits: make([]Credit, len(h.Credits))}
	if h.Debts != nil {
		out.Debts = new(big.Int).Set(h.Debts)
	}
	for i, c := range h.Credits {
		out.Credits[i] = Credit{
			Sum:          cloneBigInt(c.Sum),
			InterestRate: cloneBigInt(c.InterestRate),
			Time:         cloneBigInt(c.Time),
			IsClosed:     c.IsClosed,
		}
	}
	return out
}

// Validate rejects negative amounts.
func (h *History) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: history required", ErrInvalidHistory)
	}
	if h.Debts != nil && h.Debts.Sign() < 0 {
		return fmt.Errorf("%w: debts must not be negative", ErrInvalidHistory)
	}
	for i, c := range h.Credits {
		for name, v := range map[string]*big.Int{"sum": c.Sum, "interest_rate": c.InterestRate, "time": c.Time} {
			if v != nil && v.Sign() < 0 {
				return fmt.Errorf("%w: credit %d %s must not be negative", ErrInvalidHistory, i, name)
			}
		}
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
