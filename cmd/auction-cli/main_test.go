package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type recordedCall struct {
	method string
	params map[string]interface{}
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := rpcCall
	rpcCall = func(method string, params interface{}) (json.RawMessage, *rpcError, error) {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		decoded := map[string]interface{}{}
		_ = json.Unmarshal(raw, &decoded)
		*calls = append(*calls, recordedCall{method: method, params: decoded})
		return json.RawMessage(result), rpcErr, nil
	}
	t.Cleanup(func() { rpcCall = original })
	return calls
}

func TestCreateFixedPricingBuildsCredits(t *testing.T) {
	calls := stubRPC(t, `{"address":"0x01"}`, nil)
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"create",
		"--seller", "0x5100000000000000000000000000000000000000",
		"--sale-token", "0x5A00000000000000000000000000000000000000",
		"--bid-token", "0xB100000000000000000000000000000000000000",
		"--pricing", "fixed",
		"--credit", "100:3:12",
		"--credit", "50:2:6:closed",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if len(*calls) != 1 || (*calls)[0].method != "auction_create" {
		t.Fatalf("unexpected calls %+v", *calls)
	}
	pricing := (*calls)[0].params["pricing"].(map[string]interface{})
	credits := pricing["credits"].([]interface{})
	if len(credits) != 2 || credits[1].(map[string]interface{})["isClosed"] != true {
		t.Fatalf("unexpected credits %+v", credits)
	}
	if !strings.Contains(stdout.String(), `"address"`) {
		t.Fatalf("result not printed: %s", stdout.String())
	}
}

func TestCommandValidation(t *testing.T) {
	stubRPC(t, `null`, nil)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "Usage:"},
		{"unknown", []string{"bogus"}, "Unknown command"},
		{"bid negative", []string{"bid", "--token", "0x1", "--to", "0x2", "--amount", "-1"}, "amount must be positive"},
		{"mint zero", []string{"mint", "--token", "0x1", "--to", "0x2", "--amount", "0"}, "amount must be positive"},
		{"score without payment", []string{"create", "--sale-token", "0x1", "--bid-token", "0x2"}, "--payment"},
		{"bad credit", []string{"create", "--sale-token", "0x1", "--bid-token", "0x2", "--pricing", "fixed", "--credit", "1:2"}, "sum:rate:months"},
		{"history missing user", []string{"history", "get"}, "--user is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code == 0 {
				t.Fatalf("expected failure")
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.want)
			}
		})
	}
}

func TestRPCErrorIsReported(t *testing.T) {
	stubRPC(t, ``, &rpcError{Code: -32031, Message: "auction: only the auction creator can finalize the sale"})
	var stdout, stderr bytes.Buffer
	code := run([]string{"finalize", "--auction", "0x01", "--caller", "0x02"}, &stdout, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "RPC error -32031") {
		t.Fatalf("unexpected result %d %q", code, stderr.String())
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()
	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:1", "info", "--auction", "0x1"})
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if rpcEndpoint != "http://node:1" || len(rest) != 3 {
		t.Fatalf("unexpected endpoint %q rest %v", rpcEndpoint, rest)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}
