package pricing

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowauction/native/auction"
	"escrowauction/native/oracle"
)

type historyMap map[[20]byte]*oracle.History

func (h historyMap) History(user [20]byte) (*oracle.History, bool, error) {
	history, ok := h[user]
	return history, ok, nil
}

func credit(sum, rate, months int64, closed bool) oracle.Credit {
	return oracle.Credit{Sum: big.NewInt(sum), InterestRate: big.NewInt(rate), Time: big.NewInt(months), IsClosed: closed}
}

func TestPerfectProposal(t *testing.T) {
	for input, want := range map[int64]int64{1: 1, 9: 1, 10: 10, 1500: 1000, 99999: 10000} {
		got, err := PerfectProposal(big.NewInt(input))
		require.NoError(t, err)
		require.Equal(t, want, got.Int64(), "input %d", input)
	}
	_, err := PerfectProposal(big.NewInt(0))
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	history := &oracle.History{
		Debts:   big.NewInt(9),
		Credits: []oracle.Credit{credit(1000, 5, 12, true)},
	}
	score, err := Score(history, big.NewInt(1000))
	require.NoError(t, err)
	// net 60000 -> 30000, debts -3, one credit +200 => 30197 -> (30 + 197) / 100
	require.Equal(t, int64(2), score.Int64())
}

func TestScoreOpenCreditsReduceScore(t *testing.T) {
	closedOnly := &oracle.History{Credits: []oracle.Credit{credit(10_000, 10, 12, true), credit(10_000, 1, 12, true)}}
	mixed := &oracle.History{Credits: []oracle.Credit{credit(10_000, 10, 12, true), credit(10_000, 1, 12, false)}}
	high, err := Score(closedOnly, big.NewInt(100))
	require.NoError(t, err)
	low, err := Score(mixed, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, 1, high.Cmp(low))
}

func TestScoreUnusable(t *testing.T) {
	cases := []struct {
		name    string
		history *oracle.History
		mul     int64
		want    error
	}{
		{name: "no history", history: nil, mul: 10, want: ErrNoHistory},
		{name: "empty", history: &oracle.History{}, mul: 10, want: ErrScoreTooLow},
		{name: "debts only", history: &oracle.History{Debts: big.NewInt(300)}, mul: 10, want: ErrScoreTooLow},
		{name: "rounds to zero", history: &oracle.History{Credits: []oracle.Credit{credit(1, 1, 1, false)}}, mul: 10, want: ErrScoreTooLow},
		{
			name: "overflow",
			history: &oracle.History{Credits: []oracle.Credit{{
				Sum:          new(big.Int).Lsh(big.NewInt(1), 200),
				InterestRate: new(big.Int).Lsh(big.NewInt(1), 60),
				Time:         big.NewInt(1),
			}}},
			mul:  10,
			want: ErrOverflow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Score(tc.history, big.NewInt(tc.mul))
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestEstimation(t *testing.T) {
	got, err := Estimation(big.NewInt(1500), big.NewInt(1000), big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, int64(1500), got.Int64())
	got, err = Estimation(big.NewInt(3250), big.NewInt(1000), big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, int64(3250), got.Int64())
	_, err = Estimation(big.NewInt(1), big.NewInt(0), big.NewInt(1))
	require.Error(t, err)
}

func TestScoreQuoter(t *testing.T) {
	seller := [20]byte{0x01}
	source := historyMap{seller: {Debts: big.NewInt(9), Credits: []oracle.Credit{credit(1000, 5, 12, true)}}}
	quoter := &ScoreQuoter{Histories: source, Payment: big.NewInt(1500), Expected: big.NewInt(1000)}
	quote, err := quoter.Quote(seller)
	require.NoError(t, err)
	require.Equal(t, int64(2), quote.RequiredAmount.Int64())
	require.Equal(t, int64(1500), quote.BidCeiling.Int64())
	require.Equal(t, auction.CeilingAtMost, quote.Ceiling)

	_, err = quoter.Quote([20]byte{0x02})
	require.ErrorIs(t, err, ErrNoHistory)

	lowPayment := &ScoreQuoter{Histories: source, Payment: big.NewInt(1000), Expected: big.NewInt(1000)}
	_, err = lowPayment.Quote(seller)
	require.ErrorIs(t, err, ErrPaymentRange)
}

func TestFixedQuoter(t *testing.T) {
	quoter := &FixedQuoter{Credits: []oracle.Credit{credit(100, 3, 6, false), credit(204, 3, 6, false)}}
	quote, err := quoter.Quote([20]byte{})
	require.NoError(t, err)
	require.Equal(t, int64(304), quote.RequiredAmount.Int64())
	require.Equal(t, int64(304), quote.BidCeiling.Int64())
	require.Equal(t, auction.CeilingBelow, quote.Ceiling)

	_, err = (&FixedQuoter{}).Quote([20]byte{})
	require.ErrorIs(t, err, ErrEmptyRequest)
}
