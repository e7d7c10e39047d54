package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultRPCURL   = "http://localhost:8545"
	defaultLogDir   = "logs"
	defaultLogLevel = "info"

	logFilename = "govmirror.log"
)

type config struct {
	RPCURL     string
	Governor   string
	Token      string
	Voter      string
	VoterKey   string
	StartBlock uint64
	LogDir     string
	DebugLevel string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvUint(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}

// loadConfig assembles the runtime configuration from the environment. A
// .env file in the working directory is folded in first when present, so
// deployments can ship one next to the binary instead of exporting
// variables.
func loadConfig() (*config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := &config{
		RPCURL:     getenv("GOVMIRROR_RPC_URL", defaultRPCURL),
		Governor:   os.Getenv("GOVMIRROR_GOVERNOR"),
		Token:      os.Getenv("GOVMIRROR_TOKEN"),
		Voter:      os.Getenv("GOVMIRROR_VOTER"),
		VoterKey:   os.Getenv("GOVMIRROR_VOTER_KEY"),
		LogDir:     getenv("GOVMIRROR_LOG_DIR", defaultLogDir),
		DebugLevel: getenv("GOVMIRROR_LOG_LEVEL", defaultLogLevel),
	}

	var err error
	cfg.StartBlock, err = getenvUint("GOVMIRROR_START_BLOCK", 0)
	if err != nil {
		return nil, err
	}

	if cfg.Governor == "" {
		return nil, fmt.Errorf("GOVMIRROR_GOVERNOR is required")
	}
	return cfg, nil
}

func (c *config) logFile() string {
	return filepath.Join(c.LogDir, logFilename)
}

// String renders the effective configuration with the signing key masked.
func (c *config) String() string {
	key := ""
	if c.VoterKey != "" {
		key = "***"
	}
	return fmt.Sprintf("rpc=%s governor=%s token=%s voter=%s key=%s start_block=%d",
		c.RPCURL, c.Governor, c.Token, c.Voter, key, c.StartBlock)
}
