// Package config loads the CLI's hashing-pipeline configuration: piece size, thread
// count, memory ceiling, checksum algorithms, and protocol version (torrentdriver.Config
// plus the handful of knobs the driver doesn't own itself). Grounded in the teacher's own
// Load(path string): an optional key=value file read with bufio.Scanner, overridden by
// environment variables, defaults filled in and validated afterward.
package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/torrentdriver"
)

// Config holds the knobs a build or verify run needs beyond the root, torrent and output
// paths, which the CLI takes as command-line flags rather than config keys.
type Config struct {
	// ProtocolVersion is "v1", "v2", or "hybrid".
	ProtocolVersion string

	// Checksums is a comma-separated list of hashutil.Function tags computed per file
	// alongside v1 hashing (e.g. "md5,sha256"); empty means none.
	Checksums string

	PieceSize       int64 // 0 = auto-select (spec §4.3)
	MinIOBlockSize  int64
	MaxMemoryBytes  int64
	Threads         int  // 0 = auto (CPU count)
	MultiBuffer     bool // enable_multi_buffer_hashing (spec §4.1/§4.11)
	Private         bool
	MetricsInterval int // seconds between progress samples; 0 disables polling
}

const (
	defaultMinIOBlockSize = 4 << 20  // 4 MiB
	defaultMaxMemory      = 256 << 20 // 256 MiB
	maxAutoThreads        = 16
)

// Load reads configuration from an optional key=value file and environment variables
// (environment wins), fills in defaults, and validates the result. configPath == "" or
// a missing file is not an error; a malformed one is.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		ProtocolVersion: "hybrid",
		PieceSize:       0,
		MinIOBlockSize:  defaultMinIOBlockSize,
		MaxMemoryBytes:  defaultMaxMemory,
		Threads:         0,
		MultiBuffer:     false,
		Private:         false,
		MetricsInterval: 1,
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	cfg.loadFromEnv()

	if cfg.Threads <= 0 {
		numCPU := runtime.NumCPU()
		if numCPU < 1 {
			numCPU = 1
		}
		if numCPU > maxAutoThreads {
			numCPU = maxAutoThreads
		}
		cfg.Threads = numCPU
	}

	switch cfg.ProtocolVersion {
	case "v1", "v2", "hybrid":
	default:
		return nil, fmt.Errorf("config: protocol_version must be v1, v2, or hybrid, got %q", cfg.ProtocolVersion)
	}

	if _, err := cfg.ChecksumFunctions(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads key=value pairs, same shape as the teacher's auth.config parser.
func (cfg *Config) loadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "protocol_version":
			cfg.ProtocolVersion = value
		case "checksums":
			cfg.Checksums = value
		case "piece_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.PieceSize = n
			}
		case "min_io_block_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.MinIOBlockSize = n
			}
		case "max_memory_bytes":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.MaxMemoryBytes = n
			}
		case "threads":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Threads = n
			}
		case "multi_buffer":
			cfg.MultiBuffer = value == "true" || value == "1" || value == "yes"
		case "private":
			cfg.Private = value == "true" || value == "1" || value == "yes"
		case "metrics_interval_seconds":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.MetricsInterval = n
			}
		}
	}
	return scanner.Err()
}

// loadFromEnv overrides file/default values from the environment (spec's ambient
// configuration stack: "environment variables take precedence over file values").
func (cfg *Config) loadFromEnv() {
	if v := os.Getenv("TORRENTBUILD_PROTOCOL_VERSION"); v != "" {
		cfg.ProtocolVersion = v
	}
	if v := os.Getenv("TORRENTBUILD_CHECKSUMS"); v != "" {
		cfg.Checksums = v
	}
	if v := os.Getenv("TORRENTBUILD_PIECE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PieceSize = n
		}
	}
	if v := os.Getenv("TORRENTBUILD_MIN_IO_BLOCK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MinIOBlockSize = n
		}
	}
	if v := os.Getenv("TORRENTBUILD_MAX_MEMORY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxMemoryBytes = n
		}
	}
	if v := os.Getenv("TORRENTBUILD_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Threads = n
		}
	}
	if v := os.Getenv("TORRENTBUILD_MULTI_BUFFER"); v != "" {
		cfg.MultiBuffer = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("TORRENTBUILD_PRIVATE"); v != "" {
		cfg.Private = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("TORRENTBUILD_METRICS_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsInterval = n
		}
	}
}

// ChecksumFunctions parses the comma-separated Checksums field into hashutil.Function
// tags, rejecting unknown ones the way torrentdriver.Config.validate would anyway (spec
// §7 "invalid-configuration ... unknown hash function").
func (cfg *Config) ChecksumFunctions() ([]hashutil.Function, error) {
	if strings.TrimSpace(cfg.Checksums) == "" {
		return nil, nil
	}
	var out []hashutil.Function
	for _, tag := range strings.Split(cfg.Checksums, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		fn := hashutil.Function(tag)
		if fn.Size() == 0 {
			return nil, fmt.Errorf("config: unknown checksum function %q", tag)
		}
		out = append(out, fn)
	}
	return out, nil
}

// Protocol maps the textual ProtocolVersion to torrentdriver's Protocol enum.
func (cfg *Config) Protocol() torrentdriver.Protocol {
	switch cfg.ProtocolVersion {
	case "v1":
		return torrentdriver.ProtocolV1
	case "v2":
		return torrentdriver.ProtocolV2
	default:
		return torrentdriver.ProtocolHybrid
	}
}

// DriverConfig builds the torrentdriver.Config this configuration describes.
func (cfg *Config) DriverConfig() (torrentdriver.Config, error) {
	checksums, err := cfg.ChecksumFunctions()
	if err != nil {
		return torrentdriver.Config{}, err
	}
	return torrentdriver.Config{
		ProtocolVersion:          cfg.Protocol(),
		Checksums:                checksums,
		MinIOBlockSize:           cfg.MinIOBlockSize,
		MaxMemory:                cfg.MaxMemoryBytes,
		EnableMultiBufferHashing: cfg.MultiBuffer,
		Threads:                  cfg.Threads,
	}, nil
}
