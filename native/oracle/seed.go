package oracle

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// SeedCredit is the YAML form of a Credit. Amounts are decimal strings so
// values beyond 64 bits survive decoding.
type SeedCredit struct {
	Sum          string `yaml:"sum"`
	InterestRate string `yaml:"interestRate"`
	Time         string `yaml:"time"`
	IsClosed     bool   `yaml:"isClosed"`
}

// SeedEntry is one user's history in a seed file.
type SeedEntry struct {
	User    string       `yaml:"user"`
	Debts   string       `yaml:"debts"`
	Credits []SeedCredit `yaml:"credits"`
}

// SeedFile is the document loaded by LoadSeed.
type SeedFile struct {
	Histories []SeedEntry `yaml:"histories"`
}

// Seed is a decoded seed entry.
type Seed struct {
	User    [20]byte
	History *History
}

// LoadSeed reads histories from a YAML seed file.
func LoadSeed(path string) ([]Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer file.Close()

	var doc SeedFile
	if err := yaml.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return doc.Decode()
}

// Decode converts the YAML document into histories.
func (f SeedFile) Decode() ([]Seed, error) {
	out := make([]Seed, 0, len(f.Histories))
	for i, entry := range f.Histories {
		user := strings.TrimSpace(entry.User)
		if !common.IsHexAddress(user) {
			return nil, fmt.Errorf("histories[%d]: invalid user %q", i, entry.User)
		}
		history := &History{Credits: make([]Credit, 0, len(entry.Credits))}
		if strings.TrimSpace(entry.Debts) != "" {
			debts, err := parseAmount(entry.Debts)
			if err != nil {
				return nil, fmt.Errorf("histories[%d].debts: %w", i, err)
			}
			history.Debts = debts
		}
		for j, c := range entry.Credits {
			sum, err := parseAmount(c.Sum)
			if err != nil {
				return nil, fmt.Errorf("histories[%d].credits[%d].sum: %w", i, j, err)
			}
			rate, err := parseAmount(c.InterestRate)
			if err != nil {
				return nil, fmt.Errorf("histories[%d].credits[%d].interestRate: %w", i, j, err)
			}
			term, err := parseAmount(c.Time)
			if err != nil {
				return nil, fmt.Errorf("histories[%d].credits[%d].time: %w", i, j, err)
			}
			history.Credits = append(history.Credits, Credit{Sum: sum, InterestRate: rate, Time: term, IsClosed: c.IsClosed})
		}
		out = append(out, Seed{User: common.HexToAddress(user), History: history})
	}
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
