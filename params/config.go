package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Engine struct {
	// MinBatchOrders / MaxBatchOrders bound the cardinality of the batch
	// cancel/take operations. A batch of one order must go through the
	// singular call; the upper bound keeps a single atomic call from
	// touching an unbounded number of accounts.
	MinBatchOrders int
	MaxBatchOrders int
}

type API struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Kafka struct {
	// Enabled switches the Kafka event notifier on. Brokers and Topic are
	// ignored when disabled.
	Enabled bool
	Brokers []string
	Topic   string
}

type Node struct {
	DataDir string
	LogFile string

	// Operators and Traders are hex addresses granted the respective role
	// at startup. Role grants are configuration, not ledger state.
	Operators []string
	Traders   []string
}

type Config struct {
	Engine Engine
	API    API
	Kafka  Kafka
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			MinBatchOrders: 2,
			MaxBatchOrders: 100,
		},
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Kafka: Kafka{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "otcx.orders",
		},
		Node: Node{
			DataDir: "data",
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

	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("BATCH_MIN_ORDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MinBatchOrders = n
		}
	}
	if v := os.Getenv("BATCH_MAX_ORDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= cfg.Engine.MinBatchOrders {
			cfg.Engine.MaxBatchOrders = n
		}
	}
	if v := os.Getenv("OPERATORS"); v != "" {
		cfg.Node.Operators = splitList(v)
	}
	if v := os.Getenv("TRADERS"); v != "" {
		cfg.Node.Traders = splitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
