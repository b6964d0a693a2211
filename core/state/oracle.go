package state

import (
	"fmt"
	"math/big"

	"escrowauction/native/oracle"
)

func oracleHistoryKey(user [20]byte) []byte {
	return prefixedKey(oracleHistoryPrefix, user[:])
}

type storedCredit struct {
	Sum          *big.Int
	InterestRate *big.Int
	Time         *big.Int
	IsClosed     bool
}

type storedHistory struct {
	HasDebts bool
	Debts    *big.Int
	Credits  []storedCredit
}

// OracleHistoryGet loads the credit history recorded for user.
func (tx *Tx) OracleHistoryGet(user [20]byte) (*oracle.History, bool, error) {
	var stored storedHistory
	ok, err := tx.KVGet(oracleHistoryKey(user), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	history := &oracle.History{}
	if stored.HasDebts {
		history.Debts = nonNil(stored.Debts)
	}
	if len(stored.Credits) > 0 {
		history.Credits = make([]oracle.Credit, len(stored.Credits))
		for i, c := range stored.Credits {
			history.Credits[i] = oracle.Credit{
				Sum:          nonNil(c.Sum),
				InterestRate: nonNil(c.InterestRate),
				Time:         nonNil(c.Time),
				IsClosed:     c.IsClosed,
			}
		}
	}
	return history, true, nil
}

// OracleHistoryPut overwrites the credit history of user.
func (tx *Tx) OracleHistoryPut(user [20]byte, history *oracle.History) error {
	if history == nil {
		return fmt.Errorf("oracle: nil history")
	}
	stored := &storedHistory{Debts: big.NewInt(0)}
	if history.Debts != nil {
		stored.HasDebts = true
		stored.Debts = new(big.Int).Set(history.Debts)
	}
	for _, c := range history.Credits {
		stored.Credits = append(stored.Credits, storedCredit{
			Sum:          nonNil(c.Sum),
			InterestRate: nonNil(c.InterestRate),
			Time:         nonNil(c.Time),
			IsClosed:     c.IsClosed,
		})
	}
	return tx.KVPut(oracleHistoryKey(user), stored)
}
