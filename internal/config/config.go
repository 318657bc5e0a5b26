// Package config holds the small set of tunables a Repo needs at
// construction time. There is no hidden global state: every field has a
// documented default via Default, and FromEnv is an explicit opt-in rather
// than something the package calls on its own.
package config

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config parametrizes a single Repo instance.
type Config struct {
	// HeartbeatInterval is the period between heartbeat-tick messages
	// dispatched into the Synchronizer. Zero disables heartbeats entirely
	// (tests commonly do this to keep assertions deterministic).
	HeartbeatInterval time.Duration
	// ChannelIdleTimeout is the maximum duration an established channel may
	// go without inbound traffic before the heartbeat handler stops it.
	ChannelIdleTimeout time.Duration
	// FragmentMTU is the largest payload an adapter is assumed to carry
	// without fragmentation. Messages whose encoded size exceeds this are
	// split by the wire fragmentation layer.
	FragmentMTU int
	// ReassemblyMaxInFlight bounds the number of concurrent, incomplete
	// fragmented messages tracked per channel. The oldest session is
	// dropped on overflow.
	ReassemblyMaxInFlight int
	// OutboundQueueCap bounds the number of pending ephemeral messages held
	// per channel between flushes; zero means unbounded. Document sync
	// messages are never subject to this cap.
	OutboundQueueCap int
	// EphemeralTTL bounds how long a presence entry survives without a
	// refresh. Zero disables expiry (entries live until explicitly cleared).
	EphemeralTTL time.Duration
	// LogLevel is applied to the shared logger at Repo construction.
	LogLevel log.Level
}

// Default returns the Config used when a caller does not override any
// field, matching the values the reference adapters and tests assume.
func Default() Config {
	return Config{
		HeartbeatInterval:     10 * time.Second,
		ChannelIdleTimeout:    30 * time.Second,
		FragmentMTU:           64 * 1024,
		ReassemblyMaxInFlight: 32,
		OutboundQueueCap:      1024,
		EphemeralTTL:          60 * time.Second,
		LogLevel:              log.InfoLevel,
	}
}

// FromEnv overlays environment variables onto a base Config. It is never
// called implicitly; a caller who wants environment-driven configuration
// must invoke it explicitly, e.g. config.FromEnv(config.Default()).
func FromEnv(base Config) Config {
	if v, ok := os.LookupEnv("SYNC_HEARTBEAT_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			base.HeartbeatInterval = d
		}
	}
	if v, ok := os.LookupEnv("SYNC_CHANNEL_IDLE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			base.ChannelIdleTimeout = d
		}
	}
	if v, ok := os.LookupEnv("SYNC_FRAGMENT_MTU"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			base.FragmentMTU = n
		}
	}
	if v, ok := os.LookupEnv("SYNC_REASSEMBLY_MAX_IN_FLIGHT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			base.ReassemblyMaxInFlight = n
		}
	}
	if v, ok := os.LookupEnv("SYNC_OUTBOUND_QUEUE_CAP"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			base.OutboundQueueCap = n
		}
	}
	if v, ok := os.LookupEnv("SYNC_EPHEMERAL_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			base.EphemeralTTL = d
		}
	}
	return base
}
