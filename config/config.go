package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/transaction"
)

// Default filenames, relative to a Config's DataDir.
const (
	// DefaultKeyfile is the name of the file holding this peer's PEM-encoded
	// private key.
	DefaultKeyfile = "priv_key.pem"

	// DefaultSnapshotFile is the name of the flat, gzip-compressed tangle
	// snapshot file used when Store is false.
	DefaultSnapshotFile = "tangle.snapshot"

	// DefaultBadgerDir is the name of the badger database directory used
	// when Store is true.
	DefaultBadgerDir = "badger_db"

	// DefaultPeersFile is the name of the JSON peer directory file.
	DefaultPeersFile = "peers.json"

	// DefaultGenesisFile is the name of the JSON-encoded genesis transaction
	// an operator seeds a brand-new network with.
	DefaultGenesisFile = "genesis.json"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultMiningDifficulty = transaction.DefaultMiningDifficulty
	DefaultSelectionWalks   = 3
	DefaultStore            = false
)

// Config holds every setting a running peer needs beyond the wire protocol
// itself: where its data lives, how chatty it is, and the parameters of
// mining and tip selection it uses for its own transactions.
type Config struct {
	// DataDir is the top-level directory holding this peer's key, its
	// tangle snapshot (or badger database), and its peer directory file.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Moniker is this peer's identity on the gossip bus - the ID other
	// peers key their Directory entries by.
	Moniker string `mapstructure:"moniker"`

	// MiningDifficulty is the mining difficulty for transactions this peer
	// originates. The engine builds no transactions of its own and does not
	// read it.
	MiningDifficulty int `mapstructure:"difficulty"`

	// SelectionWalks is the number of independent biased-random walks for
	// parent selection (SelectParents's numWalks). The engine does not read
	// it or call SelectParents.
	SelectionWalks int `mapstructure:"selection-walks"`

	// Store activates the badger-backed snapshot store in place of the
	// plain gzip file.
	Store bool `mapstructure:"store"`

	// Peers lists the bus identities of other peers known ahead of time.
	// The engine does not read it and makes no connection from it; peers
	// are connected through Engine.Connect.
	Peers []string `mapstructure:"peers"`

	// GenesisFile, if set, names a JSON-encoded genesis transaction a node
	// with no existing snapshot seeds its tangle with; left unset,
	// DataDir/genesis.json is tried instead (see GenesisPath). A joining node
	// with neither file starts from an empty placeholder genesis and relies
	// on the gossip genesis vote to replace it with the network's real one.
	GenesisFile string `mapstructure:"genesis"`

	// ServiceAddr, if set, is the bind address for the read-only debug HTTP
	// surface. Left empty, no HTTP listener is started.
	ServiceAddr string `mapstructure:"service-addr"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a Config with every default value set.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		MiningDifficulty: DefaultMiningDifficulty,
		SelectionWalks:   DefaultSelectionWalks,
		Store:            DefaultStore,
	}
}

// NewTestConfig returns a Config with default values and a logger that
// writes through t.Log.
func NewTestConfig(t testing.TB) *Config {
	c := NewDefaultConfig()
	c.logger = common.NewTestLogger(t)
	return c
}

// Keyfile returns the full path to this peer's private-key file.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SnapshotFile returns the full path to the flat gzip snapshot file.
func (c *Config) SnapshotFile() string {
	return filepath.Join(c.DataDir, DefaultSnapshotFile)
}

// DatabaseDir returns the full path to the badger database directory.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, DefaultBadgerDir)
}

// PeersFile returns the full path to the JSON peer directory file.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// GenesisPath returns the path a seed genesis transaction should be read
// from: the configured GenesisFile if set, otherwise DataDir/genesis.json.
func (c *Config) GenesisPath() string {
	if c.GenesisFile != "" {
		return c.GenesisFile
	}
	return filepath.Join(c.DataDir, DefaultGenesisFile)
}

// Logger returns a formatted logrus Entry, lazily constructed and cached,
// with prefix set to "tangle".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "tangle")
}

// DefaultDataDir returns the default top-level data directory for the
// underlying OS, attempting to respect platform conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, ".Tangle")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Tangle")
	default:
		return filepath.Join(home, ".tangle")
	}
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a logrus level, defaulting to Debug on any
// unrecognized value.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
