package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Signing pins the EIP-712 domain every signed order is bound to.
// Changing any field invalidates all outstanding signatures.
type Signing struct {
	ChainID           int64
	VerifyingContract common.Address
}

// Market names the single on-book trading pair. Off-book signed
// settlement accepts any pair; the book trades only this one.
type Market struct {
	BaseToken  common.Address
	QuoteToken common.Address
}

type Node struct {
	DataDir string
	APIAddr string
	LogFile string
	// Admin gates pause/resume, emergency withdrawal, and liquidation.
	Admin common.Address
}

type Config struct {
	Signing Signing
	Market  Market
	Node    Node
}

func Default() Config {
	return Config{
		Signing: Signing{
			ChainID:           31337,
			VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		},
		Market: Market{
			BaseToken:  common.HexToAddress("0x0000000000000000000000000000000000000b01"),
			QuoteToken: common.HexToAddress("0x0000000000000000000000000000000000000c01"),
		},
		Node: Node{
			DataDir: "data",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Signing.ChainID = id
		}
	}
	if v := os.Getenv("VERIFYING_CONTRACT"); common.IsHexAddress(v) {
		cfg.Signing.VerifyingContract = common.HexToAddress(v)
	}
	if v := os.Getenv("BASE_TOKEN"); common.IsHexAddress(v) {
		cfg.Market.BaseToken = common.HexToAddress(v)
	}
	if v := os.Getenv("QUOTE_TOKEN"); common.IsHexAddress(v) {
		cfg.Market.QuoteToken = common.HexToAddress(v)
	}
	if v := os.Getenv("ADMIN_ADDRESS"); common.IsHexAddress(v) {
		cfg.Node.Admin = common.HexToAddress(v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
