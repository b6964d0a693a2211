package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"escrowauction/cmd/internal/passphrase"
)

var rpcEndpoint = defaultRPCEndpoint() // overridden by --rpc
var rpcAuthToken = os.Getenv(tokenEnv)
var promptToken bool

const tokenEnv = "AUCTION_RPC_TOKEN"

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var rpcCall = callRPC

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if promptToken {
		token, err := passphrase.NewSource(tokenEnv, "RPC bearer token").Get()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		rpcAuthToken = token
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "info":
		return runInfo(args[1:], stdout, stderr)
	case "list":
		return runList(args[1:], stdout, stderr)
	case "consign", "bid", "send":
		return runSend(args[0], args[1:], stdout, stderr)
	case "view-bid":
		return runViewBid(args[1:], stdout, stderr)
	case "finalize":
		return runFinalize(args[1:], stdout, stderr)
	case "return-all":
		return runReturnAll(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "tokens":
		return invoke(stdout, stderr, "ledger_tokens", nil)
	case "journal":
		return runJournal(args[1:], stdout, stderr)
	case "history":
		return runHistory(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  auction-cli [--rpc URL] [--prompt-token] <command> [flags]

Commands:
  create      Create an auction
  info        Show an auction
  list        List auctions
  consign     Send sale tokens to an auction
  bid         Send bid tokens to an auction
  send        Send tokens to any address
  view-bid    Show a bidder's active bid
  finalize    Close an auction (seller only)
  return-all  Return residual balances of a closed auction
  balance     Show a token balance
  mint        Mint tokens (admin only)
  tokens      List registered tokens
  journal     List journal entries
  history     Add or fetch credit histories (add|get)

Environment:
  RPC_URL            default endpoint
  AUCTION_RPC_TOKEN  bearer token sent with every request; --prompt-token
                     asks for it on the terminal when unset
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8547"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if arg == "--prompt-token" {
			promptToken = true
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func callRPC(method string, params interface{}) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// invoke calls method and pretty-prints the result.
func invoke(stdout, stderr io.Writer, method string, params interface{}) int {
	result, rpcErr, err := rpcCall(method, params)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	if len(result) == 0 {
		fmt.Fprintln(stdout, "null")
		return 0
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		_, _ = stdout.Write(result)
		fmt.Fprintln(stdout)
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}
