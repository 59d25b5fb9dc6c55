package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/pktmunch/cmd/filter"
	"github.com/endorses/pktmunch/cmd/merge"
	"github.com/endorses/pktmunch/cmd/rewrite"
	"github.com/endorses/pktmunch/cmd/show"
	"github.com/endorses/pktmunch/internal/pkg/cmdutil"
	"github.com/endorses/pktmunch/internal/pkg/constants"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = NewRootCommand()

// NewRootCommand builds the command tree with fresh flags.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pktmunch",
		Short: "pktmunch identifies and reworks packet captures",
		Long: fmt.Sprintf(`pktmunch %s - packet capture dissection toolkit

Identifies the protocol chain of every packet in a pcap file, reassembling
fragmented IPv4 datagrams, and merges, filters or rewrites captures.`, version.Version),
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(slog.LevelDebug)
			}
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pktmunch/config.yaml)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	fs.Duration("fragment-timeout", constants.DefaultFragmentTimeout, "Abandon IPv4 datagrams with no new fragment for this long (capture time, 0 disables)")
	fs.Int("max-pending-fragments", constants.DefaultMaxPendingFragments, "Maximum IPv4 datagrams reassembled at once (0 disables)")
	fs.Int("max-flows", constants.DefaultMaxFlows, "Maximum TCP flows tracked per session (0 disables)")
	fs.String("snaplen", "", "Snapshot length of written captures, e.g. 1500 or 64K (default 65535)")
	fs.Bool("nanosecond", false, "Write nanosecond timestamps")

	// Bind to viper for config file support
	cobra.CheckErr(cmdutil.BindFlags(fs, map[string]string{
		"identify.fragment_timeout":      "fragment-timeout",
		"identify.max_pending_fragments": "max-pending-fragments",
		"identify.max_flows":             "max-flows",
		"output.snaplen":                 "snaplen",
		"output.nanosecond":              "nanosecond",
	}))

	cmd.AddCommand(show.NewCommand())
	cmd.AddCommand(merge.NewCommand())
	cmd.AddCommand(filter.NewCommand())
	cmd.AddCommand(rewrite.NewCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Initialize structured logging
	logger.Initialize()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "pktmunch"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("PKTMUNCH")
	viper.SetEnvKeyReplacer(envReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("Using config file", "file", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		// An explicit config file that cannot be read is an error
		cobra.CheckErr(fmt.Errorf("config %s: %w", cfgFile, err))
	}
}
