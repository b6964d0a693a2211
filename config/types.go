package config

// Storage selects the key-value backend holding auction state.
type Storage struct {
	// Backend is one of leveldb, bolt or memory.
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Journal configures the transfer audit journal. An empty DSN disables it.
type Journal struct {
	DSN string `toml:"DSN"`
}

// RPC captures the JSON-RPC server settings. Timeouts are in seconds.
type RPC struct {
	ReadHeaderTimeout int     `toml:"ReadHeaderTimeout"`
	ReadTimeout       int     `toml:"ReadTimeout"`
	WriteTimeout      int     `toml:"WriteTimeout"`
	IdleTimeout       int     `toml:"IdleTimeout"`
	JWTEnable         bool    `toml:"JWTEnable"`
	JWTSecret         string  `toml:"JWTSecret"`
	JWTIssuer         string  `toml:"JWTIssuer"`
	RateLimitPerSec   float64 `toml:"RateLimitPerSec"`
	RateLimitBurst    int     `toml:"RateLimitBurst"`
	MaxBodyBytes      int64   `toml:"MaxBodyBytes"`
}

// Logging configures the optional rotating log file.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Auction holds the host roles and seed data.
type Auction struct {
	CodeHash    string `toml:"CodeHash"`
	OracleOwner string `toml:"OracleOwner"`
	Admin       string `toml:"Admin"`
	// HistorySeed is an optional YAML file of credit histories loaded at
	// startup.
	HistorySeed string `toml:"HistorySeed"`
}

// Allocation is an initial token balance.
type Allocation struct {
	Holder string `toml:"Holder"`
	Amount string `toml:"Amount"`
}

// Token is a ledger token registered at startup.
type Token struct {
	Address  string       `toml:"Address"`
	CodeHash string       `toml:"CodeHash"`
	Name     string       `toml:"Name"`
	Symbol   string       `toml:"Symbol"`
	Decimals uint8        `toml:"Decimals"`
	Mint     []Allocation `toml:"Mint"`
}
