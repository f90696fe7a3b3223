package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Typed readers for the BRANDLINK_* environment variables Config is built
// from. A variable that is unset, blank, or malformed yields the default, so
// a broken deployment env degrades to defaults instead of refusing to start.

// EnvString reads a string env var with a default:
//
//	addr := EnvString("BRANDLINK_HTTP_ADDR", "0.0.0.0:8080")
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvBool reads a bool env var with a default. Accepts anything
// strconv.ParseBool does ("1", "t", "TRUE", ...), as used for flags like
// BRANDLINK_READINESS_REQUIRE_DB.
func EnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a positive int env var (byte sizes and limits such as
// BRANDLINK_HTTP_MAX_HEADER_BYTES) with a default. Zero and negative values
// fall back.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 env var with a default. pgxpool sizing
// (BRANDLINK_DB_MAX_CONNS, BRANDLINK_DB_MIN_CONNS) takes int32, and zero is a
// valid minimum there.
func EnvInt32(key string, def int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	if n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads a duration env var ("750ms", "15s", "1m") with a
// default. Non-positive durations fall back.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
