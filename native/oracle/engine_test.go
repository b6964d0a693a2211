package oracle

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"escrowauction/core/events"
)

type mockState struct {
	histories map[[20]byte]*History
}

func (m *mockState) OracleHistoryGet(user [20]byte) (*History, bool, error) {
	h, ok := m.histories[user]
	return h, ok, nil
}

func (m *mockState) OracleHistoryPut(user [20]byte, h *History) error {
	m.histories[user] = h
	return nil
}

type countingEmitter struct{ n int }

func (c *countingEmitter) Emit(events.Event) { c.n++ }

func addr(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func TestAddHistoryOwnerOnly(t *testing.T) {
	owner := addr(0x01)
	engine := NewEngine(owner)
	engine.SetState(&mockState{histories: map[[20]byte]*History{}})
	emitter := &countingEmitter{}
	engine.SetEmitter(emitter)

	history := &History{Debts: big.NewInt(3), Credits: []Credit{{Sum: big.NewInt(10), InterestRate: big.NewInt(2), Time: big.NewInt(12), IsClosed: true}}}
	if err := engine.AddHistory(addr(0x02), addr(0x03), history); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.AddHistory(owner, addr(0x03), history); err != nil {
		t.Fatalf("add history: %v", err)
	}
	if emitter.n != 1 {
		t.Fatalf("expected one event, got %d", emitter.n)
	}
	history.Credits[0].Sum.SetInt64(99)

	lookup, err := engine.GetHistory(addr(0x03))
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !lookup.Found || lookup.Message != MessageHistoryFound {
		t.Fatalf("unexpected lookup %+v", lookup)
	}
	if lookup.History.Credits[0].Sum.Int64() != 10 {
		t.Fatalf("stored history aliased caller data")
	}
	missing, _ := engine.GetHistory(addr(0x04))
	if missing.Found || missing.Message != MessageHistoryMissing || missing.History != nil {
		t.Fatalf("unexpected missing lookup %+v", missing)
	}
}

func TestAddHistoryRejectsNegativeAmounts(t *testing.T) {
	owner := addr(0x01)
	engine := NewEngine(owner)
	engine.SetState(&mockState{histories: map[[20]byte]*History{}})
	bad := &History{Credits: []Credit{{Sum: big.NewInt(-1)}}}
	if err := engine.AddHistory(owner, addr(0x02), bad); !errors.Is(err, ErrInvalidHistory) {
		t.Fatalf("expected ErrInvalidHistory, got %v", err)
	}
	if err := engine.AddHistory(owner, addr(0x02), nil); !errors.Is(err, ErrInvalidHistory) {
		t.Fatalf("expected ErrInvalidHistory for nil history, got %v", err)
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	doc := []byte(`histories:
  - user: "0x2222222222222222222222222222222222222222"
    debts: "5"
    credits:
      - sum: "340282366920938463463374607431768211456"
        interestRate: "3"
        time: "12"
        isClosed: true
  - user: "0x3333333333333333333333333333333333333333"
    credits: []
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seeds, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}
	if seeds[0].User != addr(0x22) || seeds[0].History.Debts.Int64() != 5 {
		t.Fatalf("unexpected first seed %+v", seeds[0])
	}
	if seeds[0].History.Credits[0].Sum.String() != "340282366920938463463374607431768211456" || !seeds[0].History.Credits[0].IsClosed {
		t.Fatalf("unexpected credit %+v", seeds[0].History.Credits[0])
	}
	if seeds[1].History.Debts != nil {
		t.Fatalf("expected no debts on second seed")
	}

	bad := SeedFile{Histories: []SeedEntry{{User: "0x2222222222222222222222222222222222222222", Credits: []SeedCredit{{Sum: "-4"}}}}}
	if _, err := bad.Decode(); err == nil {
		t.Fatalf("expected negative amount rejected")
	}
	if _, err := (SeedFile{Histories: []SeedEntry{{User: "nope"}}}).Decode(); err == nil {
		t.Fatalf("expected invalid user rejected")
	}
}
