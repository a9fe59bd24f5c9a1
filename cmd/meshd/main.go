package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"meshcore/cmd/cli"
	cfg "meshcore/cmd/config"
)

func main() {
	var env string

	rootCmd := &cobra.Command{
		Use:   "meshd",
		Short: "meshcore node: op-graph synchronization over a peer mesh",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.LoadConfig(env)
			lv, err := logrus.ParseLevel(cfg.AppConfig.Logging.Level)
			if err != nil {
				lv = logrus.InfoLevel
			}
			logrus.SetLevel(lv)
			if cfg.AppConfig.Logging.File != "" {
				f, err := os.OpenFile(cfg.AppConfig.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err == nil {
					logrus.SetOutput(f)
				}
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "configuration environment overlay (e.g. bootstrap)")

	cli.RegisterNetwork(rootCmd)
	rootCmd.AddCommand(cli.StorageRoute)
	cli.RegisterSync(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
