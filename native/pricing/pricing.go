package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"escrowauction/native/auction"
	"escrowauction/native/oracle"
)

var (
	ErrNoHistory    = errors.New("pricing: you have no credit history to calculate score")
	ErrScoreTooLow  = errors.New("pricing: you have too bad score")
	ErrOverflow     = errors.New("pricing: credit history overflows")
	ErrPaymentRange = errors.New("pricing: you can't expect to pay less than sum of credit")
	ErrEmptyRequest = errors.New("pricing: credit request must contain a positive sum")
)

// PerfectProposal returns the largest power of ten not above x. x must be
// positive.
func PerfectProposal(x *big.Int) (*big.Int, error) {
	if x == nil || x.Sign() <= 0 {
		return nil, fmt.Errorf("pricing: proposal base must be positive")
	}
	digits := len(x.String())
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil), nil
}

// creditProduct is sum*rate*time, checked against 256-bit overflow.
func creditProduct(c oracle.Credit) (*uint256.Int, error) {
	sum, overflow := uint256.FromBig(orZero(c.Sum))
	if overflow {
		return nil, ErrOverflow
	}
	rate, overflow := uint256.FromBig(orZero(c.InterestRate))
	if overflow {
		return nil, ErrOverflow
	}
	term, overflow := uint256.FromBig(orZero(c.Time))
	if overflow {
		return nil, ErrOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(sum, rate)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = product.MulOverflow(product, term); overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// Score derives the sale quantity from a credit history. Closed credits
// raise the score and open ones lower it; debts are penalised and every
// credit on record earns a share of mul.
func Score(history *oracle.History, mul *big.Int) (*big.Int, error) {
	if history == nil {
		return nil, ErrNoHistory
	}
	if mul == nil || mul.Sign() <= 0 {
		return nil, fmt.Errorf("pricing: multiplier must be positive")
	}
	closed, open := new(uint256.Int), new(uint256.Int)
	for _, credit := range history.Credits {
		product, err := creditProduct(credit)
		if err != nil {
			return nil, err
		}
		target := open
		if credit.IsClosed {
			target = closed
		}
		if _, overflow := target.AddOverflow(target, product); overflow {
			return nil, ErrOverflow
		}
	}

	score := new(big.Int)
	net := new(big.Int).Sub(closed.ToBig(), open.ToBig())
	if net.Sign() > 0 {
		half, rem := new(big.Int).QuoRem(net, big.NewInt(2), new(big.Int))
		score.Add(score, half).Add(score, rem)
	}
	if history.Debts != nil {
		third, rem := new(big.Int).QuoRem(history.Debts, big.NewInt(3), new(big.Int))
		score.Sub(score, third).Sub(score, rem)
	}
	weighted := new(big.Int).Mul(big.NewInt(int64(len(history.Credits))), mul)
	fifth, rem := new(big.Int).QuoRem(weighted, big.NewInt(5), new(big.Int))
	score.Add(score, fifth).Add(score, rem)
	if score.Sign() <= 0 {
		return nil, ErrScoreTooLow
	}

	quo, mod := new(big.Int).QuoRem(score, mul, new(big.Int))
	result := quo.Add(quo, mod)
	result.Quo(result, big.NewInt(100))
	if result.Sign() == 0 {
		return nil, ErrScoreTooLow
	}
	return result, nil
}

// Estimation computes the bid ceiling from the proposed payment and the
// expected sum: (payment/expected)*mul + payment%expected.
func Estimation(payment, expected, mul *big.Int) (*big.Int, error) {
	if expected == nil || expected.Sign() <= 0 {
		return nil, fmt.Errorf("pricing: expected amount must be positive")
	}
	quo, mod := new(big.Int).QuoRem(payment, expected, new(big.Int))
	quo.Mul(quo, mul)
	return quo.Add(quo, mod), nil
}

// HistorySource serves credit histories.
type HistorySource interface {
	History(user [20]byte) (*oracle.History, bool, error)
}

// ScoreQuoter prices an auction from the seller's credit history.
type ScoreQuoter struct {
	Histories HistorySource
	Payment   *big.Int
	Expected  *big.Int
}

var _ auction.PricingOracle = (*ScoreQuoter)(nil)

// Quote implements auction.PricingOracle.
func (q *ScoreQuoter) Quote(seller [20]byte) (*auction.Quote, error) {
	if q == nil || q.Histories == nil {
		return nil, fmt.Errorf("pricing: history source not configured")
	}
	if q.Payment == nil || q.Expected == nil || q.Expected.Sign() <= 0 || q.Payment.Cmp(q.Expected) <= 0 {
		return nil, ErrPaymentRange
	}
	mul, err := PerfectProposal(q.Payment)
	if err != nil {
		return nil, err
	}
	history, found, err := q.Histories.History(seller)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoHistory
	}
	score, err := Score(history, mul)
	if err != nil {
		return nil, err
	}
	ceiling, err := Estimation(q.Payment, q.Expected, mul)
	if err != nil {
		return nil, err
	}
	return &auction.Quote{RequiredAmount: score, BidCeiling: ceiling, Ceiling: auction.CeilingAtMost}, nil
}

// FixedQuoter prices an auction from an explicit credit request: the sale
// quantity is the requested sum and bids must stay strictly below it.
type FixedQuoter struct {
	Credits []oracle.Credit
}

var _ auction.PricingOracle = (*FixedQuoter)(nil)

// Quote implements auction.PricingOracle.
func (q *FixedQuoter) Quote([20]byte) (*auction.Quote, error) {
	if q == nil {
		return nil, ErrEmptyRequest
	}
	total := new(big.Int)
	for _, credit := range q.Credits {
		if credit.Sum == nil {
			continue
		}
		if credit.Sum.Sign() < 0 {
			return nil, fmt.Errorf("pricing: credit sum must not be negative")
		}
		total.Add(total, credit.Sum)
	}
	if total.Sign() == 0 {
		return nil, ErrEmptyRequest
	}
	return &auction.Quote{
		RequiredAmount: total,
		BidCeiling:     new(big.Int).Set(total),
		Ceiling:        auction.CeilingBelow,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
