package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by the CLI. A .env file in the working
// directory supplies values not set in the environment.
const (
	envLogLevel     = "IMTA_LOG_LEVEL"
	envWorkers      = "IMTA_WORKERS"
	envMaxEntrySize = "IMTA_MAX_ENTRY_SIZE"
)

type config struct {
	logLevel     slog.Level
	workers      int
	maxEntrySize int64
}

type lookupFunc func(key string) (string, bool)

// envLookup returns a lookup that prefers the process environment over the
// values in dotenv. A missing dotenv file is not an error.
func envLookup(dotenv string) (lookupFunc, error) {
	file, err := godotenv.Read(dotenv)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", dotenv, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}

func loadConfig(lookup lookupFunc) (config, error) {
	cfg := config{
		logLevel:     slog.LevelWarn,
		workers:      4,
		maxEntrySize: 256 << 20,
	}
	if v, ok := lookup(envLogLevel); ok && v != "" {
		if err := cfg.logLevel.UnmarshalText([]byte(v)); err != nil {
			return config{}, fmt.Errorf("%s: %w", envLogLevel, err)
		}
	}
	if v, ok := lookup(envWorkers); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return config{}, fmt.Errorf("%s: invalid worker count %q", envWorkers, v)
		}
		cfg.workers = n
	}
	if v, ok := lookup(envMaxEntrySize); ok && v != "" {
		n, err := parseSize(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envMaxEntrySize, err)
		}
		cfg.maxEntrySize = n
	}
	return cfg, nil
}

// parseSize parses a byte count with an optional binary suffix
// (k, kb, kib, m, mb, mib, g, gb, gib).
func parseSize(value string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffixes []string
		mult     int64
	}{
		{[]string{"kib", "kb", "k"}, 1 << 10},
		{[]string{"mib", "mb", "m"}, 1 << 20},
		{[]string{"gib", "gb", "g"}, 1 << 30},
	} {
		for _, suffix := range unit.suffixes {
			if strings.HasSuffix(text, suffix) {
				multiplier = unit.mult
				text = strings.TrimSpace(strings.TrimSuffix(text, suffix))
				break
			}
		}
		if multiplier != 1 {
			break
		}
	}
	if text == "" {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	raw, err := strconv.ParseInt(text, 10, 64)
	if err != nil || raw < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	if raw > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("size %q overflows", value)
	}
	return raw * multiplier, nil
}
