package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Transports and compressions accepted by Validate.
const (
	TransportGRPC  = "grpc"
	TransportLocal = "local"

	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// LauncherRank marks a process that spawns the participants instead of
// being one.
const LauncherRank = -1

// Config holds all application configuration.
type Config struct {
	Run       RunConfig
	Pipeline  PipelineConfig
	Topology  TopologyConfig
	Transport TransportConfig
	Logging   LogConfig
	Status    StatusConfig
	Report    ReportConfig
}

// RunConfig identifies one run across all participants.
type RunConfig struct {
	ID string `envconfig:"DBPIPE_RUN_ID"`
}

// PipelineConfig holds the driver parameters.
type PipelineConfig struct {
	BufferSize int           `envconfig:"DBPIPE_BUFFER_SIZE" default:"1048576"`
	Slots      int           `envconfig:"DBPIPE_SLOTS" default:"2"`
	Iterations int           `envconfig:"DBPIPE_ITERATIONS" default:"10"`
	Delay      time.Duration `envconfig:"DBPIPE_DELAY" default:"200ms"`
}

// TopologyConfig describes the participants and their roles.
type TopologyConfig struct {
	Rank     int      `envconfig:"DBPIPE_RANK" default:"-1"`
	Size     int      `envconfig:"DBPIPE_SIZE" default:"2"`
	Peers    []string `envconfig:"DBPIPE_PEERS"`
	Producer int      `envconfig:"DBPIPE_PRODUCER" default:"0"`
	Consumer int      `envconfig:"DBPIPE_CONSUMER" default:"1"`
	Tag      int      `envconfig:"DBPIPE_TAG" default:"0"`
	Host     string   `envconfig:"DBPIPE_HOST" default:"127.0.0.1"`
	BasePort int      `envconfig:"DBPIPE_BASE_PORT" default:"50600"`
	File     string   `envconfig:"DBPIPE_TOPOLOGY_FILE"`
}

// TransportConfig selects and tunes the channel implementation.
type TransportConfig struct {
	Kind            string        `envconfig:"DBPIPE_TRANSPORT" default:"grpc"`
	Compression     string        `envconfig:"DBPIPE_COMPRESSION" default:"none"`
	MaxMessageBytes int           `envconfig:"DBPIPE_MAX_MESSAGE_BYTES" default:"16777216"`
	ConnectTimeout  time.Duration `envconfig:"DBPIPE_CONNECT_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StatusConfig holds the status HTTP server configuration. An empty Addr
// disables the server.
type StatusConfig struct {
	Addr            string   `envconfig:"DBPIPE_STATUS_ADDR"`
	RateLimit       float64  `envconfig:"DBPIPE_STATUS_RATE_LIMIT" default:"20"`
	Burst           int      `envconfig:"DBPIPE_STATUS_BURST" default:"40"`
	GlobalRateLimit float64  `envconfig:"DBPIPE_STATUS_GLOBAL_RATE_LIMIT" default:"0"`
	CORSOrigins     []string `envconfig:"DBPIPE_STATUS_CORS_ORIGINS" default:"*"`
}

// ReportConfig controls what participants print on stdout.
type ReportConfig struct {
	Format    string   `envconfig:"DBPIPE_REPORT_FORMAT" default:"text"`
	ProbeVars []string `envconfig:"DBPIPE_PROBE_VARS" default:"DBPIPE_TRANSPORT,DBPIPE_COMPRESSION,GOMAXPROCS"`
}

// Load loads configuration from environment variables, then applies the
// topology file when one is named.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Topology.File != "" {
		f, err := LoadTopologyFile(cfg.Topology.File)
		if err != nil {
			return nil, err
		}
		f.Apply(&cfg.Topology)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			BufferSize: 1024 * 1024,
			Slots:      2,
			Iterations: 10,
			Delay:      200 * time.Millisecond,
		},
		Topology: TopologyConfig{
			Rank:     LauncherRank,
			Size:     2,
			Producer: 0,
			Consumer: 1,
			Tag:      0,
			Host:     "127.0.0.1",
			BasePort: 50600,
		},
		Transport: TransportConfig{
			Kind:            TransportGRPC,
			Compression:     CompressionNone,
			MaxMessageBytes: 16 * 1024 * 1024,
			ConnectTimeout:  30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Status: StatusConfig{
			RateLimit:   20,
			Burst:       40,
			CORSOrigins: []string{"*"},
		},
		Report: ReportConfig{
			Format:    "text",
			ProbeVars: []string{"DBPIPE_TRANSPORT", "DBPIPE_COMPRESSION", "GOMAXPROCS"},
		},
	}
}

// Validate rejects values no participant can run with. A Size below two is
// accepted here; the participants report it themselves.
func (c *Config) Validate() error {
	p, t := c.Pipeline, c.Topology
	switch {
	case p.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size %d", ErrInvalid, p.BufferSize)
	case p.Slots <= 0:
		return fmt.Errorf("%w: slots %d", ErrInvalid, p.Slots)
	case p.Iterations < 0:
		return fmt.Errorf("%w: iterations %d", ErrInvalid, p.Iterations)
	case p.Delay < 0:
		return fmt.Errorf("%w: delay %s", ErrInvalid, p.Delay)
	case t.Size < 1:
		return fmt.Errorf("%w: size %d", ErrInvalid, t.Size)
	case t.Rank < LauncherRank || t.Rank >= t.Size:
		return fmt.Errorf("%w: rank %d outside world of %d", ErrInvalid, t.Rank, t.Size)
	case t.Producer < 0 || t.Consumer < 0 || t.Producer == t.Consumer:
		return fmt.Errorf("%w: producer %d and consumer %d", ErrInvalid, t.Producer, t.Consumer)
	case t.Tag < 0:
		return fmt.Errorf("%w: tag %d", ErrInvalid, t.Tag)
	case len(t.Peers) != 0 && len(t.Peers) != t.Size:
		return fmt.Errorf("%w: %d peers for a world of %d", ErrInvalid, len(t.Peers), t.Size)
	case !slices.Contains([]string{TransportGRPC, TransportLocal}, c.Transport.Kind):
		return fmt.Errorf("%w: transport %q", ErrInvalid, c.Transport.Kind)
	case !slices.Contains([]string{"", CompressionNone, CompressionZstd}, c.Transport.Compression):
		return fmt.Errorf("%w: compression %q", ErrInvalid, c.Transport.Compression)
	// The limit bounds payload bytes; the transport adds frame overhead.
	case c.Transport.MaxMessageBytes < p.BufferSize:
		return fmt.Errorf("%w: max message bytes %d below buffer size %d", ErrInvalid, c.Transport.MaxMessageBytes, p.BufferSize)
	case c.Status.RateLimit < 0 || c.Status.GlobalRateLimit < 0 || c.Status.Burst < 0:
		return fmt.Errorf("%w: status rate limit %g global %g burst %d", ErrInvalid,
			c.Status.RateLimit, c.Status.GlobalRateLimit, c.Status.Burst)
	case slices.ContainsFunc(c.Status.CORSOrigins, badOrigin):
		return fmt.Errorf("%w: cors origins %v", ErrInvalid, c.Status.CORSOrigins)
	case !slices.Contains([]string{"", "text", "json"}, c.Report.Format):
		return fmt.Errorf("%w: report format %q", ErrInvalid, c.Report.Format)
	}
	return nil
}

func badOrigin(o string) bool {
	return o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://")
}

// PeerAddrs returns the listen address of every rank. Explicit peers win;
// otherwise ranks listen on consecutive ports from BasePort.
func (t TopologyConfig) PeerAddrs() []string {
	if len(t.Peers) > 0 {
		return slices.Clone(t.Peers)
	}
	addrs := make([]string, t.Size)
	for i := range addrs {
		addrs[i] = net.JoinHostPort(t.Host, strconv.Itoa(t.BasePort+i))
	}
	return addrs
}

// RoleOf returns the role played by rank.
func (t TopologyConfig) RoleOf(rank int) pipeline.Role {
	switch rank {
	case t.Producer:
		return pipeline.RoleProducer
	case t.Consumer:
		return pipeline.RoleConsumer
	}
	return pipeline.RoleIdle
}

// Driver returns the driver config of rank. The peer is the opposite role.
func (c *Config) Driver(rank int) pipeline.Config {
	peer := c.Topology.Consumer
	if rank == c.Topology.Consumer {
		peer = c.Topology.Producer
	}
	return pipeline.Config{
		BufferSize: c.Pipeline.BufferSize,
		Slots:      c.Pipeline.Slots,
		Iterations: c.Pipeline.Iterations,
		Delay:      c.Pipeline.Delay,
		Peer:       peer,
		Tag:        c.Topology.Tag,
	}
}
