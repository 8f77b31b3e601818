package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/parlock/core/model"
	infraledger "github.com/kilianp07/parlock/infra/ledger"
	"github.com/kilianp07/parlock/infra/logger"
)

var (
	mockAddr    string
	mockUnits   []string
	mockParcels []string
)

var ledgerMockCmd = &cobra.Command{
	Use:   "ledger-mock",
	Short: "Serve an in-memory ledger for bench tests",
	Long: "Serves the ledger HTTP API for the configured locker id and verification code.\n" +
		"Units are seeded with --unit id:LxWxH (millimetres) and expected parcels with --parcel.",
	RunE: ledgerMock,
}

func init() {
	ledgerMockCmd.Flags().StringVar(&mockAddr, "addr", "", "listen address (defaults to ledger.mock_address)")
	ledgerMockCmd.Flags().StringSliceVar(&mockUnits, "unit", nil, "unit to seed, as id:LxWxH")
	ledgerMockCmd.Flags().StringSliceVar(&mockParcels, "parcel", nil, "tracking number expected for deposit")
	rootCmd.AddCommand(ledgerMockCmd)
}

// parseUnit reads "id:LxWxH" into an available unit.
func parseUnit(s string) (model.LockerUnit, error) {
	id, dims, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return model.LockerUnit{}, fmt.Errorf("unit %q: want id:LxWxH", s)
	}
	parts := strings.Split(strings.ToLower(dims), "x")
	if len(parts) != 3 {
		return model.LockerUnit{}, fmt.Errorf("unit %q: want id:LxWxH", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f <= 0 {
			return model.LockerUnit{}, fmt.Errorf("unit %q: bad dimension %q", s, p)
		}
		v[i] = f
	}
	return model.LockerUnit{
		ID:         id,
		Dimensions: model.Dimensions{Length: v[0], Width: v[1], Height: v[2]},
		Available:  true,
	}, nil
}

func ledgerMock(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := mockAddr
	if addr == "" {
		addr = cfg.Ledger.MockAddress
	}
	mock := infraledger.NewServerMock(infraledger.MockConfig{
		Address:          addr,
		LockerID:         cfg.Locker.ID,
		VerificationCode: cfg.Locker.VerificationCode,
	}, logger.New("ledger-mock"))
	for _, s := range mockUnits {
		u, err := parseUnit(s)
		if err != nil {
			return err
		}
		mock.AddUnit(u)
	}
	for _, tn := range mockParcels {
		mock.ExpectParcel(tn)
	}
	return mock.Start(ctx)
}
