package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tangleward/tangle/engine"
)

// NewRunCmd returns the command that starts a tangle peer.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a tangle peer",
		PreRunE: loadConfig,
		RunE:    runEngine,
	}
	AddRunFlags(cmd)
	return cmd
}

func runEngine(cmd *cobra.Command, args []string) error {
	eng := engine.New(&_config.Tangle)

	if err := eng.Init(); err != nil {
		_config.Tangle.Logger().WithError(err).Error("cannot initialize engine")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	_config.Tangle.Logger().WithField("moniker", _config.Tangle.Moniker).Info("peer started")

	return eng.Run(ctx)
}

// AddRunFlags adds flags to the run command.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Tangle.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Tangle.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Tangle.Moniker, "This peer's bus identity")
	cmd.Flags().Int("difficulty", _config.Tangle.MiningDifficulty, "Mining difficulty for self-originated transactions")
	cmd.Flags().Int("selection-walks", _config.Tangle.SelectionWalks, "Number of biased random walks used to select parents")
	cmd.Flags().Bool("store", _config.Tangle.Store, "Use badgerDB instead of a flat gzip snapshot file")
	cmd.Flags().String("genesis", _config.Tangle.GenesisFile, "Path to a JSON-encoded genesis transaction seeding a new network")
	cmd.Flags().StringSlice("peers", _config.Tangle.Peers, "Bus identities of peers known ahead of time")
	cmd.Flags().String("service-addr", _config.Tangle.ServiceAddr, "Bind address for the read-only debug HTTP surface; empty disables it")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	logFields := logrus.Fields{
		"tangle.DataDir":           _config.Tangle.DataDir,
		"tangle.LogLevel":          _config.Tangle.LogLevel,
		"tangle.Moniker":           _config.Tangle.Moniker,
		"tangle.MiningDifficulty":  _config.Tangle.MiningDifficulty,
		"tangle.SelectionWalks":    _config.Tangle.SelectionWalks,
		"tangle.Store":             _config.Tangle.Store,
		"tangle.GenesisFile":       _config.Tangle.GenesisFile,
		"tangle.Peers":             _config.Tangle.Peers,
		"tangle.ServiceAddr":       _config.Tangle.ServiceAddr,
	}
	_config.Tangle.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// bindFlagsLoadViper binds this command's flags to viper and layers in any
// tangle.toml/.yaml/.json found in the configured datadir.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	viper.SetConfigName("tangle")
	viper.AddConfigPath(_config.Tangle.DataDir)

	if err := viper.ReadInConfig(); err == nil {
		_config.Tangle.Logger().Debugf("using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Tangle.Logger().Debugf("no config file found in: %s", _config.Tangle.DataDir)
	} else {
		return err
	}

	return viper.Unmarshal(_config)
}
