package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL string
	AuthToken  string
	BrokerURL  string

	StateDir   string
	ListenAddr string

	PollIntervalS int
	HTTPTimeoutMs int

	BreakerFailures int
	BreakerOpenMs   int
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() Config {
	// .env is a dev convenience; real deployments set the environment.
	_ = godotenv.Load()

	return Config{
		APIBaseURL: getenv("API_BASE_URL", "http://localhost:8080/api"),
		AuthToken:  getenv("AUTH_TOKEN", ""),
		BrokerURL:  getenv("BROKER_URL", "tcp://localhost:1883"),

		StateDir:   getenv("STATE_DIR", ".state"),
		ListenAddr: getenv("LISTEN_ADDR", ":5010"),

		PollIntervalS: getenvInt("POLL_INTERVAL_S", 60),
		HTTPTimeoutMs: getenvInt("HTTP_TIMEOUT_MS", 10000),

		BreakerFailures: getenvInt("BREAKER_FAILURES", 5),
		BreakerOpenMs:   getenvInt("BREAKER_OPEN_MS", 15000),
	}
}
