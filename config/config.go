// Package config provides configuration for papergw.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version string

	// Address to bind for the gateway front end
	Bind string
	// Address to bind for the control API, empty for disabled
	API string
	// Address to bind for the local nameserver, empty for disabled
	NameserverBind string
	// Address registered private-namespace domains resolve to
	GatewayIP string

	// Reserved top-level label of the private namespace
	ReservedTLD string
	// Path prefix unwrapped to a private-namespace request
	GatewayPrefix string

	LogLevel  string
	AccessLog string

	// Response cache
	CacheSize int
	CacheTTL  Duration

	// Resolver bridge reply timeout
	BridgeTimeout Duration
	// Agent activation bound for one loader attempt
	ActivationTimeout Duration
	// Delay between bootstrap attempts
	AttemptDelay Duration
	// Batch size for the parallel bootstrap strategy
	MaxParallel int

	// Directory for the persisted membership set and cache export store
	DataDir string

	// Admission filter
	RateLimit     int
	Blocklist     []string
	BlocklistFile string

	// Bootstrap sources, highest priority tried first
	Sources []Source

	sVersion string
}

// Source is one bootstrap source entry in the config file.
type Source struct {
	ID       string
	Kind     string
	Location string
	Priority int
	Timeout  Duration
	Enabled  bool
	Digest   string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the gateway front end
bind = "127.0.0.1:8080"

# Address to bind to for the http control API server, left blank for disabled
api = "127.0.0.1:8081"

# Address to bind to for the local nameserver answering private-namespace
# domains, left blank for disabled. Example: "127.0.0.1:5353"
nameserverbind = ""

# Address registered private-namespace domains resolve to
gatewayip = "127.0.0.1"

# Reserved top-level label of the private namespace
reservedtld = "paper"

# Requests under this path prefix are unwrapped to a private-namespace request
gatewayprefix = "/__gw/"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# The location of access log file, left blank for disabled.
# accesslog = ""

# Response cache size (total entries)
cachesize = 4096

# Response cache entry lifetime
cachettl = "5m"

# How long the resolver bridge waits for one reply
bridgetimeout = "15s"

# How long one loader attempt waits for agent activation
activationtimeout = "30s"

# Delay between bootstrap source attempts
attemptdelay = "100ms"

# Batch size for the parallel bootstrap strategy
maxparallel = 3

# Directory for persisted gateway state
datadir = "./data"

# Client address based admissions per rolling minute, 0 for disabled
ratelimit = 100

# Manual blocklist entries, plain addresses or CIDR ranges
blocklist = []

# Blocklist file watched for changes, one address or CIDR per line
# blocklistfile = ""

# Bootstrap sources for the interception agent payload, highest priority
# tried first. Kinds: direct, content-addressed, cdn, p2p, embedded
[[sources]]
id = "primary"
kind = "direct"
location = "https://gateway.paper.net/agent"
priority = 100
timeout = "5s"
enabled = true

[[sources]]
id = "cdn-edge"
kind = "cdn"
location = "https://cdn.paper.net/agent"
priority = 90
timeout = "5s"
enabled = true

[[sources]]
id = "ipfs"
kind = "content-addressed"
location = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
priority = 70
timeout = "10s"
enabled = true

[[sources]]
id = "peer"
kind = "p2p"
location = "peer.paper.net:4001"
priority = 50
timeout = "10s"
enabled = false

[[sources]]
id = "embedded-doc"
kind = "embedded"
location = "https://mirror.paper.net/bootstrap.pdf"
priority = 10
timeout = "15s"
enabled = false
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if config.ReservedTLD == "" {
		config.ReservedTLD = "paper"
	}

	if config.GatewayPrefix == "" {
		config.GatewayPrefix = "/__gw/"
	}

	if config.CacheSize < 1 {
		config.CacheSize = 4096
	}

	if config.CacheTTL.Duration == 0 {
		config.CacheTTL.Duration = 5 * time.Minute
	}

	if config.BridgeTimeout.Duration == 0 {
		config.BridgeTimeout.Duration = 15 * time.Second
	}

	if config.ActivationTimeout.Duration == 0 {
		config.ActivationTimeout.Duration = 30 * time.Second
	}

	if config.AttemptDelay.Duration == 0 {
		config.AttemptDelay.Duration = 100 * time.Millisecond
	}

	if config.MaxParallel < 1 {
		config.MaxParallel = 3
	}

	return config, nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
