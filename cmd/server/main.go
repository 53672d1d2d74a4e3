package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-friendchat/internal/config"
	"go-friendchat/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	v := viper.New()

	load := func() (*config.Config, error) {
		return config.Load(v, configPath)
	}

	rootCmd := &cobra.Command{
		Use:          "friendchat",
		Short:        "Friend-gated direct messaging server",
		Long:         "friendchat serves the account, friend and message API plus the real-time presence hub. It migrates the schema on start.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return serve(cmd.Context(), cfg, log)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (toml, yaml or json)")
	flags.String("addr", ":8080", "http service address")
	_ = v.BindPFlag("addr", flags.Lookup("addr"))

	rootCmd.AddCommand(newMigrateCmd(load))
	return rootCmd
}
