package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/config"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type rootOptions struct {
	configFile string
	envFile    string

	loader *config.Loader
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ticketsync",
		Short:         "Realtime ticket and chat sync for helpdesk staff",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return ro.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if ro.logger != nil {
				_ = ro.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&ro.configFile, "config", "", "config file (default: search for ticketsync.yaml)")
	flags.StringVar(&ro.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.String("api-url", "", "collaborator REST base URL")
	flags.String("realtime-url", "", "collaborator websocket URL")
	flags.String("token", "", "bearer credential")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(ro),
		newFollowCmd(ro),
		newTicketsCmd(ro),
		newVersionCmd(),
	)
	return cmd
}

var flagKeys = map[string]string{
	"api-url":      "api.base_url",
	"realtime-url": "realtime.url",
	"token":        "auth.token",
	"log-level":    "log.level",
}

func (ro *rootOptions) load(cmd *cobra.Command) error {
	ro.loader = config.NewLoader(ro.configFile)
	ro.loader.SetEnvFile(ro.envFile)
	v := ro.loader.Viper()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := ro.loader.Load()
	if err != nil {
		return err
	}
	logger, level, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	ro.cfg, ro.logger, ro.level = cfg, logger, level
	if file := ro.loader.ConfigFile(); file != "" {
		logger.Debug("config: loaded", zap.String("file", file))
	}
	return nil
}
