package pipeline

import (
	"os"
	"strconv"
	"time"
)

// Default generator sizes, overridable through the environment.
const (
	DefaultNumUsers  = 10000
	DefaultNumEvents = 50000
	DefaultNumOrders = 20000
)

// Environment variables consulted by FromEnv.
const (
	EnvNumUsers  = "SBDK_NUM_USERS"
	EnvNumEvents = "SBDK_NUM_EVENTS"
	EnvNumOrders = "SBDK_NUM_ORDERS"
)

// Params controls the extraction generators.
type Params struct {
	NumUsers  int
	NumEvents int
	NumOrders int

	// Seed fixes the random source for reproducible runs. Zero means
	// time-seeded.
	Seed int64

	// Now anchors generated timestamps. Zero means the current time.
	Now time.Time
}

func (p Params) clock() time.Time {
	if p.Now.IsZero() {
		return time.Now().UTC()
	}
	return p.Now.UTC()
}

// DefaultParams returns the built-in generator sizes.
func DefaultParams() Params {
	return Params{
		NumUsers:  DefaultNumUsers,
		NumEvents: DefaultNumEvents,
		NumOrders: DefaultNumOrders,
	}
}

// FromEnv returns DefaultParams with environment overrides applied.
func FromEnv() Params {
	p := DefaultParams()
	p.NumUsers = envInt(EnvNumUsers, p.NumUsers)
	p.NumEvents = envInt(EnvNumEvents, p.NumEvents)
	p.NumOrders = envInt(EnvNumOrders, p.NumOrders)
	return p
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
