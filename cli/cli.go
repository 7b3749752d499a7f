// Package cli wraps a node into a command line program: flags and environment feed the
// config, stdin and stdout carry the protocol, logs go to stderr.
package cli

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mini-maelstrom/config"
	"mini-maelstrom/message"
	"mini-maelstrom/node"
	"mini-maelstrom/registry"
	"mini-maelstrom/server"
)

// EnvPrefix prefixes the environment variables that mirror the flags, e.g.
// MAELSTROM_LOG=debug or MAELSTROM_REGISTRY_TTL=30s.
const EnvPrefix = "MAELSTROM"

// NewCommand returns the root command of a node binary.
func NewCommand(name, short string, payloads *message.Registry, factory node.Factory) *cobra.Command {
	conf := config.NewDefaultConfig()
	v := viper.New()

	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v, conf)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, conf, payloads, factory)
		},
	}
	AddFlags(cmd, conf)
	return cmd
}

// AddFlags declares the config flags on cmd, with conf's values as defaults.
func AddFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("config", "", "Optional config file (yaml, toml or json)")
	cmd.Flags().String("log", conf.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", conf.LogDir, "Directory for node_info.log and node_debug.log")
	cmd.Flags().Float64("rate", conf.Rate, "Inbound requests per second handed to the node (0 = unlimited)")
	cmd.Flags().Int("burst", conf.Burst, "Requests allowed above rate at once")
	cmd.Flags().String("registry", conf.Registry, "Comma-separated etcd endpoints to announce the node in")
	cmd.Flags().String("registry-prefix", conf.RegistryPrefix, "etcd key prefix of node entries")
	cmd.Flags().Duration("registry-ttl", conf.RegistryTTL, "Lease TTL of the node entry")
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, conf *config.Config) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	if err := v.Unmarshal(conf); err != nil {
		return err
	}

	conf.Logger().WithFields(logrus.Fields{
		"log":             conf.LogLevel,
		"log-dir":         conf.LogDir,
		"rate":            conf.Rate,
		"burst":           conf.Burst,
		"registry":        conf.Registry,
		"registry-prefix": conf.RegistryPrefix,
		"registry-ttl":    conf.RegistryTTL,
	}).Debug("RUN")
	return nil
}

func runNode(cmd *cobra.Command, conf *config.Config, payloads *message.Registry, factory node.Factory) error {
	s := server.New(conf, payloads, factory)

	if endpoints := conf.RegistryEndpoints(); len(endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(endpoints, conf.RegistryPrefix, config.DefaultDialTimeout, conf.Logger())
		if err != nil {
			return err
		}
		defer reg.Close()
		s.SetRegistry(reg)
	}

	return s.Run(cmd.InOrStdin(), cmd.OutOrStdout())
}

// Main runs cmd and exits with status 1 if it fails.
func Main(cmd *cobra.Command) {
	//Do not print usage when error occurs
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
