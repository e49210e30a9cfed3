// Package config loads the engine's deployment-level parameters the same
// way lnd.go's loadConfig composes a flags-tagged struct from defaults,
// a config file, and the command line, via jessevdk/go-flags (the
// upstream of the btcsuite/go-flags fork lnd.go imports).
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/paychan/channelcore/core/types"
	"github.com/paychan/channelcore/core/validator"
)

const (
	defaultConfigFilename  = "channelcore.conf"
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogFilename     = "channelcore.log"
	defaultMaxLogFiles     = 3
	defaultMaxLogFileSize  = 10

	defaultMinTransferTimeout = uint64(60)           // 1 minute
	defaultMaxTransferTimeout = uint64(7 * 24 * 3600) // 1 week

	defaultMaxConcurrentChannels = int64(64)
	defaultMessagingTimeout      = 30 * time.Second
	defaultRetryAttempts         = 3
	defaultRetryBackoff          = 2 * time.Second
)

// Config is the top-level, flags-tagged configuration for an engine
// process: everything loadConfig needs to build a validator.Policy, a
// core/sync.Dispatcher, and the surrounding store/transport.
type Config struct {
	ConfigFile string `long:"configfile" description:"Path to configuration file"`
	DataDir    string `long:"datadir" description:"Directory to store the bolt database and logs"`

	LogDir   string `long:"logdir" description:"Directory to log output"`
	LogLevel string `long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	ChainID        uint64 `long:"chainid" description:"Chain identifier this engine's channels are anchored to"`
	ChannelFactory string `long:"channelfactory" description:"Hex-encoded address of the channel factory that deploys new channels"`

	MinTransferTimeout uint64 `long:"mintransfertimeout" description:"Minimum transfer timeout, in seconds, Validator accepts on a create"`
	MaxTransferTimeout uint64 `long:"maxtransfertimeout" description:"Maximum transfer timeout, in seconds, Validator accepts on a create"`

	RegisteredTransferDefinitions []string `long:"transferdefinition" description:"Hex-encoded transfer-definition address this node recognizes (may be given multiple times)"`

	MaxConcurrentChannels int64         `long:"maxconcurrentchannels" description:"Maximum number of channels with an update in flight at once"`
	MessagingTimeout      time.Duration `long:"messagingtimeout" description:"Timeout for a single outbound messaging round trip"`
	RetryAttempts         int           `long:"retryattempts" description:"Maximum attempts OutboundWithRetry makes for a retriable CounterpartyFailure"`
	RetryBackoff          time.Duration `long:"retrybackoff" description:"Backoff between OutboundWithRetry attempts"`
}

// DefaultConfig returns a Config populated with the same defaults
// loadConfig falls back to before the config file and flags are parsed.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDirname,
		LogDir:   defaultDataDirname,
		LogLevel: defaultLogLevel,

		MinTransferTimeout: defaultMinTransferTimeout,
		MaxTransferTimeout: defaultMaxTransferTimeout,

		MaxConcurrentChannels: defaultMaxConcurrentChannels,
		MessagingTimeout:      defaultMessagingTimeout,
		RetryAttempts:         defaultRetryAttempts,
		RetryBackoff:          defaultRetryBackoff,
	}
}

// LoadConfig mirrors lnd.go's loadConfig: start from defaults, overlay a
// config file if one exists, then overlay command-line flags, which take
// highest precedence.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	preCfg := *cfg
	if _, err := flags.NewParser(&preCfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	confFile := preCfg.ConfigFile
	if confFile == "" {
		confFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}
	if fileExists(confFile) {
		if err := flags.IniParse(confFile, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", confFile, err)
		}
	}

	if _, err := flags.NewParser(cfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MinTransferTimeout > c.MaxTransferTimeout {
		return fmt.Errorf("config: mintransfertimeout (%d) exceeds maxtransfertimeout (%d)",
			c.MinTransferTimeout, c.MaxTransferTimeout)
	}
	if c.MaxConcurrentChannels < 1 {
		return fmt.Errorf("config: maxconcurrentchannels must be at least 1")
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Policy builds the validator.Policy this config describes, decoding
// each configured RegisteredTransferDefinitions entry as a hex-encoded
// 20-byte address.
func (c *Config) Policy() (validator.Policy, error) {
	defs := make(map[types.Address]struct{}, len(c.RegisteredTransferDefinitions))
	for _, raw := range c.RegisteredTransferDefinitions {
		addr, err := decodeAddress(raw)
		if err != nil {
			return validator.Policy{}, fmt.Errorf("config: transferdefinition %q: %w", raw, err)
		}
		defs[addr] = struct{}{}
	}

	return validator.Policy{
		MinTransferTimeout:           c.MinTransferTimeout,
		MaxTransferTimeout:           c.MaxTransferTimeout,
		RegisteredTransferDefinitions: defs,
	}, nil
}

// ChannelFactoryAddress decodes ChannelFactory as a hex-encoded 20-byte
// address.
func (c *Config) ChannelFactoryAddress() (types.Address, error) {
	return decodeAddress(c.ChannelFactory)
}

func decodeAddress(raw string) (types.Address, error) {
	var addr types.Address
	b, err := hex.DecodeString(raw)
	if err != nil {
		return addr, err
	}
	if len(b) != len(addr) {
		return addr, fmt.Errorf("expected %d bytes, got %d", len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}
