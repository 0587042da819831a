// Package procconfig holds the flag/env-driven process configuration for
// cmd/gatewayd, separate from internal/gwconfig's database-persisted
// trading Config row (spec.md §3). Grounded on the feed simulator's
// internal/config package: flag.*Var bound to an env-var-with-default
// helper, parsed once in Load().
package procconfig

import (
	"flag"
	"os"
	"strconv"
)

// Config holds process-level settings: listen address, Mongo URI, bus
// queue depth, and the S3 archive destination (archival is opt-in, active
// only when S3Bucket is set, matching the teacher's own opt-in convention).
type Config struct {
	Host string
	Port int

	MongoURI string

	BusQueueDepth      int
	ProxyOutboxCap     int
	SimBrokerSeed      int64

	S3Bucket             string
	S3Region             string
	S3Prefix             string
	ArchiveIntervalHours int
	ArchiveAfterHours    int
}

// Load parses flags (falling back to env vars, then hardcoded defaults)
// into a Config.
func Load() *Config {
	c := &Config{}

	flag.StringVar(&c.Host, "host", envStr("GATEWAY_HOST", "0.0.0.0"), "listen host")
	flag.IntVar(&c.Port, "port", envInt("GATEWAY_PORT", 8200), "listen port")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/marketgateway"), "MongoDB connection URI")

	flag.IntVar(&c.BusQueueDepth, "bus-queue-depth", envInt("BUS_QUEUE_DEPTH", 256), "per-subscriber bus queue depth")
	flag.IntVar(&c.ProxyOutboxCap, "proxy-outbox-cap", envInt("PROXY_OUTBOX_CAP", 256), "per-client outbound frame queue capacity")
	flag.Int64Var(&c.SimBrokerSeed, "sim-broker-seed", envInt64("SIM_BROKER_SEED", 0), "simulated broker PRNG seed (0 = random)")

	flag.StringVar(&c.S3Bucket, "s3-bucket", envStr("S3_BUCKET", ""), "S3 bucket for trade archival (empty = disabled)")
	flag.StringVar(&c.S3Region, "s3-region", envStr("S3_REGION", "us-east-1"), "AWS region for S3")
	flag.StringVar(&c.S3Prefix, "s3-prefix", envStr("S3_PREFIX", "marketgateway"), "S3 key prefix for archived trades")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 72), "archive trades older than this many hours")

	flag.Parse()
	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
