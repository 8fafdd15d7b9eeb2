// Package config loads Orion's process configuration from flags, with
// environment-variable overrides for the options spec.md §6 names
// explicitly, loaded through an optional .env file the way the teacher's
// main.go loads its own flag block (spec.md's config section).
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is Orion's full set of tunable process options.
type Config struct {
	HTTPAddr string // reliable-stream + request-response listen address
	UDPAddr  string // datagram channel listen address

	CaptureTimeout   time.Duration // ptpmServerConnectTimeoutMs
	ReminderInterval time.Duration // ptpmConnectRequestIntervalMs
	ConnectTimeout   time.Duration // ptpmConnectTimeoutMs
}

// Default returns spec.md §6's documented defaults.
func Default() Config {
	return Config{
		HTTPAddr:         ":5980",
		UDPAddr:          ":5990",
		CaptureTimeout:   300000 * time.Millisecond,
		ReminderInterval: 10000 * time.Millisecond,
		ConnectTimeout:   300000 * time.Millisecond,
	}
}

// Load parses flags, applies the five spec.md §6 environment-variable
// overrides on top of them when set, and returns the result. A .env
// file in the working directory is loaded first, if present, so local
// environment variables can be set without exporting them from a shell.
func Load(args []string) Config {
	_ = godotenv.Load()

	cfg := Default()
	fs := flag.NewFlagSet("orion", flag.ExitOnError)
	httpAddr := fs.String("http-addr", cfg.HTTPAddr, "reliable-stream and request-response listen address")
	udpAddr := fs.String("udp-addr", cfg.UDPAddr, "datagram channel listen address")
	captureMs := fs.Int("ptpm-server-connect-timeout-ms", int(cfg.CaptureTimeout.Milliseconds()), "capture-phase deadline in milliseconds")
	reminderMs := fs.Int("ptpm-connect-request-interval-ms", int(cfg.ReminderInterval.Milliseconds()), "reminder interval in milliseconds")
	connectMs := fs.Int("ptpm-connect-timeout-ms", int(cfg.ConnectTimeout.Milliseconds()), "peer-connect deadline in milliseconds")
	_ = fs.Parse(args)

	cfg.HTTPAddr = *httpAddr
	cfg.UDPAddr = *udpAddr
	cfg.CaptureTimeout = time.Duration(*captureMs) * time.Millisecond
	cfg.ReminderInterval = time.Duration(*reminderMs) * time.Millisecond
	cfg.ConnectTimeout = time.Duration(*connectMs) * time.Millisecond

	applyEnvOverrides(&cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("ptpmServerConnectTimeoutMs"); ok {
		cfg.CaptureTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("ptpmConnectRequestIntervalMs"); ok {
		cfg.ReminderInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("ptpmConnectTimeoutMs"); ok {
		cfg.ConnectTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("httpPort"); ok {
		cfg.HTTPAddr = ":" + strconv.Itoa(v)
	}
	if v, ok := envInt("udpPort"); ok {
		cfg.UDPAddr = ":" + strconv.Itoa(v)
	}
}

func envInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
