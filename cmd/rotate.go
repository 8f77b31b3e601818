package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/parlock/config"
	infraledger "github.com/kilianp07/parlock/infra/ledger"
	"github.com/kilianp07/parlock/infra/logger"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate-code",
	Short: "Ask the ledger for a new verification code and store it in the config file",
	RunE:  rotateCode,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}

func rotateCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := infraledger.NewClient(infraledger.Config{
		Address:          cfg.Ledger.Address,
		LockerID:         cfg.Locker.ID,
		VerificationCode: cfg.Locker.VerificationCode,
		Timeout:          cfg.Ledger.Timeout(),
	}, logger.New("ledger"))
	code, err := client.ChangeVerificationCode(context.Background())
	if err != nil {
		return err
	}
	if err := (config.CodeFile{Path: cfgPath}).SaveVerificationCode(code); err != nil {
		// the ledger already switched: the operator must copy the code by hand
		return fmt.Errorf("store new verification code %s: %w", code, err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "verification code rotated")
	return err
}
