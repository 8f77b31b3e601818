package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/parlock/app"
	"github.com/kilianp07/parlock/config"
	"github.com/kilianp07/parlock/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "parlock",
	Short:        "Parcel locker base controller",
	SilenceUsage: true,
	RunE:         run,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calibrate the platform and serve deposits and withdrawals",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(cfg, app.Options{ConfigPath: cfgPath})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
