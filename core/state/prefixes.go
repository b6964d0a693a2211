package state

var (
	auctionStatePrefix   = []byte("auction/state/")
	auctionBidPrefix     = []byte("auction/bid/")
	auctionIndexKey      = []byte("auction/index")
	oracleHistoryPrefix  = []byte("oracle/history/")
	ledgerTokenPrefix    = []byte("ledger/token/")
	ledgerTokenIndexKey  = []byte("ledger/token-index")
	ledgerBalancePrefix  = []byte("ledger/balance/")
	ledgerReceiverPrefix = []byte("ledger/receiver/")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, part...)
	}
	return buf
}
