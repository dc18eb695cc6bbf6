// Kestrel - Explainable loan scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/observability"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// flagKeys maps command line flags to configuration keys. A flag set on the
// command line wins over the file and the environment.
var flagKeys = map[string]string{
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"tier":          "tier",
	"host":          "server.host",
	"port":          "server.port",
	"threshold":     "model.threshold",
	"model":         "model.model_artifact",
	"encoder":       "model.encoder_artifact",
	"store":         "repository.driver",
	"artifacts-dir": "repository.dir",
	"samples":       "explainer.num_samples",
	"seed":          "explainer.seed",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries state shared by all subcommands.
type cli struct {
	cfgFile string
	cfg     *domain.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Explainable loan scoring",
		Long: `Kestrel scores loan applications with a pre-trained gradient-boosted
classifier, explains each decision with a local surrogate model and renders
the explanation as a one-page PNG report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or text")
	pf.String("tier", "", "deployment tier: community or pro")
	pf.String("store", "", "artifact store: file, sqlite, postgres or s3")
	pf.String("artifacts-dir", "", "directory of the file artifact store")

	root.AddCommand(
		newServeCmd(c),
		newPredictCmd(c),
		newExplainCmd(c),
		newReportCmd(c),
		newArtifactsCmd(c),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration for cmd and initializes logging.
func (c *cli) load(cmd *cobra.Command) error {
	v := config.New()
	if c.cfgFile != "" {
		v.SetConfigFile(c.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", c.cfgFile, err)
		}
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	observability.InitLogger(cfg.Logging)
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
