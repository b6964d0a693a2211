package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
)

type creditFlag struct {
	Sum          string `json:"sum"`
	InterestRate string `json:"interestRate"`
	Time         string `json:"time"`
	IsClosed     bool   `json:"isClosed"`
}

// creditList collects repeated --credit sum:rate:months[:closed] flags.
type creditList []creditFlag

func (c *creditList) String() string {
	parts := make([]string, 0, len(*c))
	for _, credit := range *c {
		parts = append(parts, credit.Sum+":"+credit.InterestRate+":"+credit.Time)
	}
	return strings.Join(parts, ",")
}

func (c *creditList) Set(value string) error {
	fields := strings.Split(strings.TrimSpace(value), ":")
	if len(fields) != 3 && len(fields) != 4 {
		return fmt.Errorf("credit must be sum:rate:months[:closed]")
	}
	for _, field := range fields[:3] {
		if _, err := parseAmount(field, true); err != nil {
			return err
		}
	}
	credit := creditFlag{Sum: fields[0], InterestRate: fields[1], Time: fields[2]}
	if len(fields) == 4 {
		switch strings.ToLower(fields[3]) {
		case "closed", "true":
			credit.IsClosed = true
		case "open", "false":
		default:
			return fmt.Errorf("credit state must be closed or open")
		}
	}
	*c = append(*c, credit)
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func parseAmount(raw string, allowZero bool) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 || (!allowZero && value.Sign() == 0) {
		return "", fmt.Errorf("amount must be positive")
	}
	return value.String(), nil
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		seller, sale, bid, description string
		direction, ceiling, zeroBid    string
		mode, payment, expected        string
		credits                        creditList
		nonce                          int64
	)
	fs.StringVar(&seller, "seller", "", "seller address")
	fs.StringVar(&sale, "sale-token", "", "sale token address")
	fs.StringVar(&bid, "bid-token", "", "bid token address")
	fs.StringVar(&description, "description", "", "free-form description")
	fs.StringVar(&direction, "direction", "", "descending (default) or ascending")
	fs.StringVar(&ceiling, "ceiling", "", "override the quoted ceiling rule: at_most or below")
	fs.StringVar(&zeroBid, "zero-bid", "", "decline (default) or reject")
	fs.StringVar(&mode, "pricing", "score", "pricing mode: score or fixed")
	fs.StringVar(&payment, "payment", "", "score pricing: total repayment")
	fs.StringVar(&expected, "expected", "", "score pricing: expected sum")
	fs.Var(&credits, "credit", "fixed pricing: sum:rate:months[:closed], repeatable")
	fs.Int64Var(&nonce, "nonce", -1, "creation nonce (defaults to the auction count)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if sale == "" || bid == "" {
		return printError(stderr, "--sale-token and --bid-token are required")
	}
	pricing := map[string]interface{}{"mode": mode}
	switch strings.ToLower(mode) {
	case "score":
		p, err := parseAmount(payment, false)
		if err != nil {
			return printError(stderr, "--payment: "+err.Error())
		}
		e, err := parseAmount(expected, false)
		if err != nil {
			return printError(stderr, "--expected: "+err.Error())
		}
		pricing["payment"], pricing["expected"] = p, e
	case "fixed":
		if len(credits) == 0 {
			return printError(stderr, "--credit is required for fixed pricing")
		}
		pricing["credits"] = credits
	default:
		return printError(stderr, "--pricing must be score or fixed")
	}
	params := map[string]interface{}{
		"seller":      seller,
		"saleToken":   sale,
		"bidToken":    bid,
		"description": description,
		"direction":   direction,
		"ceiling":     ceiling,
		"zeroBid":     zeroBid,
		"pricing":     pricing,
	}
	if nonce >= 0 {
		params["nonce"] = uint64(nonce)
	}
	return invoke(stdout, stderr, "auction_create", params)
}

func runInfo(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("info", stderr)
	var addr string
	fs.StringVar(&addr, "auction", "", "auction address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if addr == "" {
		return printError(stderr, "--auction is required")
	}
	return invoke(stdout, stderr, "auction_info", map[string]string{"auction": addr})
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var active bool
	fs.BoolVar(&active, "active", false, "only open auctions")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return invoke(stdout, stderr, "auction_list", map[string]bool{"activeOnly": active})
}

// runSend backs consign, bid and send. All three are ledger sends; the
// command name only selects which token flag is required.
func runSend(command string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(command, stderr)
	var token, from, to, amount string
	fs.StringVar(&token, "token", "", "token address")
	fs.StringVar(&from, "from", "", "sender address")
	fs.StringVar(&to, "to", "", "recipient or auction address")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if token == "" || to == "" {
		return printError(stderr, "--token and --to are required")
	}
	normalized, err := parseAmount(amount, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "ledger_send", map[string]string{
		"token": token, "from": from, "to": to, "amount": normalized,
	})
}

func runViewBid(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("view-bid", stderr)
	var addr, bidder string
	fs.StringVar(&addr, "auction", "", "auction address")
	fs.StringVar(&bidder, "bidder", "", "bidder address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if addr == "" {
		return printError(stderr, "--auction is required")
	}
	return invoke(stdout, stderr, "auction_viewBid", map[string]string{"auction": addr, "bidder": bidder})
}

func runFinalize(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("finalize", stderr)
	var addr, caller string
	var onlyIfBids bool
	fs.StringVar(&addr, "auction", "", "auction address")
	fs.StringVar(&caller, "caller", "", "seller address")
	fs.BoolVar(&onlyIfBids, "only-if-bids", false, "refuse to close without active bids")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if addr == "" {
		return printError(stderr, "--auction is required")
	}
	return invoke(stdout, stderr, "auction_finalize", map[string]interface{}{
		"auction": addr, "caller": caller, "onlyIfBids": onlyIfBids,
	})
}

func runReturnAll(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("return-all", stderr)
	var addr string
	fs.StringVar(&addr, "auction", "", "auction address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if addr == "" {
		return printError(stderr, "--auction is required")
	}
	return invoke(stdout, stderr, "auction_returnAll", map[string]string{"auction": addr})
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var token, holder string
	fs.StringVar(&token, "token", "", "token address")
	fs.StringVar(&holder, "holder", "", "holder address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if token == "" || holder == "" {
		return printError(stderr, "--token and --holder are required")
	}
	return invoke(stdout, stderr, "ledger_balance", map[string]string{"token": token, "holder": holder})
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	var caller, token, to, amount string
	fs.StringVar(&caller, "caller", "", "admin address")
	fs.StringVar(&token, "token", "", "token address")
	fs.StringVar(&to, "to", "", "recipient address")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if token == "" || to == "" {
		return printError(stderr, "--token and --to are required")
	}
	normalized, err := parseAmount(amount, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "ledger_mint", map[string]string{
		"caller": caller, "token": token, "to": to, "amount": normalized,
	})
}

func runJournal(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("journal", stderr)
	var addr string
	var limit int
	fs.StringVar(&addr, "auction", "", "filter by auction address")
	fs.IntVar(&limit, "limit", 0, "maximum entries")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return invoke(stdout, stderr, "ledger_journal", map[string]interface{}{"auction": addr, "limit": limit})
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, "history requires add or get")
	}
	switch args[0] {
	case "get":
		fs := newFlagSet("history get", stderr)
		var user string
		fs.StringVar(&user, "user", "", "user address")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if user == "" {
			return printError(stderr, "--user is required")
		}
		return invoke(stdout, stderr, "oracle_getHistory", map[string]string{"user": user})
	case "add":
		fs := newFlagSet("history add", stderr)
		var caller, user, debts string
		var credits creditList
		fs.StringVar(&caller, "caller", "", "oracle owner address")
		fs.StringVar(&user, "user", "", "user address")
		fs.StringVar(&debts, "debts", "", "outstanding debts")
		fs.Var(&credits, "credit", "sum:rate:months[:closed], repeatable")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if user == "" {
			return printError(stderr, "--user is required")
		}
		history := map[string]interface{}{"credits": credits}
		if credits == nil {
			history["credits"] = []creditFlag{}
		}
		if debts != "" {
			normalized, err := parseAmount(debts, true)
			if err != nil {
				return printError(stderr, "--debts: "+err.Error())
			}
			history["debts"] = normalized
		}
		return invoke(stdout, stderr, "oracle_addHistory", map[string]interface{}{
			"caller": caller, "user": user, "history": history,
		})
	default:
		return printError(stderr, fmt.Sprintf("unknown history subcommand %q", args[0]))
	}
}
