package state

import (
	"fmt"
	"math/big"

	"escrowauction/native/ledger"
)

func ledgerTokenKey(addr [20]byte) []byte {
	return prefixedKey(ledgerTokenPrefix, addr[:])
}

func ledgerBalanceKey(token, holder [20]byte) []byte {
	return prefixedKey(ledgerBalancePrefix, token[:], holder[:])
}

func ledgerReceiverKey(token, contract [20]byte) []byte {
	return prefixedKey(ledgerReceiverPrefix, token[:], contract[:])
}

type storedToken struct {
	Address     [20]byte
	CodeHash    string
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// LedgerTokenGet loads the token registered at addr.
func (tx *Tx) LedgerTokenGet(addr [20]byte) (*ledger.Token, bool, error) {
	var stored storedToken
	ok, err := tx.KVGet(ledgerTokenKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ledger.Token{
		Address:     stored.Address,
		CodeHash:    stored.CodeHash,
		Name:        stored.Name,
		Symbol:      stored.Symbol,
		Decimals:    stored.Decimals,
		TotalSupply: nonNil(stored.TotalSupply),
	}, true, nil
}

// LedgerTokenPut stores tok and indexes it on first write.
func (tx *Tx) LedgerTokenPut(tok *ledger.Token) error {
	if tok == nil {
		return fmt.Errorf("ledger: nil token")
	}
	key := ledgerTokenKey(tok.Address)
	exists, err := tx.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := tx.KVPut(key, &storedToken{
		Address:     tok.Address,
		CodeHash:    tok.CodeHash,
		Name:        tok.Name,
		Symbol:      tok.Symbol,
		Decimals:    tok.Decimals,
		TotalSupply: nonNil(tok.TotalSupply),
	}); err != nil {
		return err
	}
	if exists {
		return nil
	}
	index, err := tx.LedgerTokenList()
	if err != nil {
		return err
	}
	return tx.KVPut(ledgerTokenIndexKey, append(index, tok.Address))
}

// LedgerTokenList returns registered token addresses in registration order.
func (tx *Tx) LedgerTokenList() ([][20]byte, error) {
	var index [][20]byte
	if _, err := tx.KVGet(ledgerTokenIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// LedgerBalance returns the balance of holder, zero when unset.
func (tx *Tx) LedgerBalance(token, holder [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := tx.KVGet(ledgerBalanceKey(token, holder), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// LedgerSetBalance overwrites the balance of holder. Zero balances are
// deleted.
func (tx *Tx) LedgerSetBalance(token, holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return tx.KVDelete(ledgerBalanceKey(token, holder))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative balance")
	}
	return tx.KVPut(ledgerBalanceKey(token, holder), amount)
}

// LedgerReceiverGet returns the code hash contract registered with for token.
func (tx *Tx) LedgerReceiverGet(token, contract [20]byte) (string, bool, error) {
	var codeHash string
	ok, err := tx.KVGet(ledgerReceiverKey(token, contract), &codeHash)
	return codeHash, ok, err
}

// LedgerReceiverPut registers contract for deposit notifications of token.
func (tx *Tx) LedgerReceiverPut(token, contract [20]byte, codeHash string) error {
	return tx.KVPut(ledgerReceiverKey(token, contract), codeHash)
}
