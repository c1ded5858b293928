// Package config holds the tracer's tunables: functional options for
// programmatic callers and a YAML file plus environment-variable overrides
// for the CLI front-end.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config controls how a Tracker is created.
type Config struct {
	NativeTraces           bool
	FollowFork             bool
	TracePythonAllocators  bool // kept as TraceCgoAllocators' historical name in the wire header enum; see codec.PythonAllocator
	MemoryIntervalMS       int
	Compress               bool
	AllocatorOverrideEnv   string
}

// Option mutates a Config.
type Option func(*Config)

// Default returns the default configuration: no native traces, no fork
// following, a 10ms sampler interval.
func Default() Config {
	return Config{
		NativeTraces:          false,
		FollowFork:            false,
		TracePythonAllocators: false,
		MemoryIntervalMS:      10,
		Compress:              false,
		AllocatorOverrideEnv:  "MEMTRACE_ALLOCATOR_OVERRIDE",
	}
}

// WithNativeTraces enables native/cgo call-stack resolution for every
// allocation.
func WithNativeTraces(v bool) Option {
	return func(c *Config) { c.NativeTraces = v }
}

// WithFollowFork enables fork-following: a child process gets its own
// Tracker around a cloned sink.
func WithFollowFork(v bool) Option {
	return func(c *Config) { c.FollowFork = v }
}

// WithTraceCgoAllocators enables tracking of the pooled/cgo managed
// allocator domains in addition to raw interposed calls.
func WithTraceCgoAllocators(v bool) Option {
	return func(c *Config) { c.TracePythonAllocators = v }
}

// WithMemoryInterval sets the background sampler's wake interval in
// milliseconds.
func WithMemoryInterval(ms int) Option {
	return func(c *Config) { c.MemoryIntervalMS = ms }
}

// WithCompress enables zstd compression of the sink's byte stream.
func WithCompress(v bool) Option {
	return func(c *Config) { c.Compress = v }
}

// Apply builds a Config from Default() plus the given options.
func Apply(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// FromYAMLFile loads a Config from a YAML file, falling back to Default()
// for any field not present in the file.
func FromYAMLFile(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyEnvOverrides mutates c in place using MEMTRACE_* environment
// variables.
func ApplyEnvOverrides(c *Config) {
	if v := os.Getenv("MEMTRACE_NATIVE_TRACES"); v != "" {
		c.NativeTraces = parseBool(v, c.NativeTraces)
	}
	if v := os.Getenv("MEMTRACE_FOLLOW_FORK"); v != "" {
		c.FollowFork = parseBool(v, c.FollowFork)
	}
	if v := os.Getenv("MEMTRACE_TRACE_CGO_ALLOCATORS"); v != "" {
		c.TracePythonAllocators = parseBool(v, c.TracePythonAllocators)
	}
	if v := os.Getenv("MEMTRACE_MEMORY_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.MemoryIntervalMS = ms
		}
	}
	if v := os.Getenv("MEMTRACE_COMPRESS"); v != "" {
		c.Compress = parseBool(v, c.Compress)
	}
}

// AllocatorOverride reports the value of the allocator-name override
// environment variable, used only to force interposition mode during
// tests.
func (c Config) AllocatorOverride() string {
	return strings.TrimSpace(os.Getenv(c.AllocatorOverrideEnv))
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
