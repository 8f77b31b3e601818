package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/parlock/app"
	"github.com/kilianp07/parlock/core/model"
	corevision "github.com/kilianp07/parlock/core/vision"
	infravision "github.com/kilianp07/parlock/infra/vision"
)

var (
	calFullDistance float64
	calAnnotate     string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure the empty platform and the fiducial scale",
	Long: "Measures the distance to the empty platform and the pixels per millimetre of the fiducial.\n" +
		"With --full-distance the platform is assumed calibrated and the object on it is measured " +
		"the way a deposit would be.",
	RunE: calibrate,
}

func init() {
	calibrateCmd.Flags().Float64Var(&calFullDistance, "full-distance", 0, "empty platform distance in mm; measure the object on the platform")
	calibrateCmd.Flags().StringVar(&calAnnotate, "annotate", "", "write the annotated still of the measured object to this file")
	rootCmd.AddCommand(calibrateCmd)
}

func calibrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy, _ := corevision.ParsePolicy(cfg.Vision.Policy)
	hw, err := app.OpenHardware(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = hw.Close() }()

	if calFullDistance > 0 {
		return measureObject(ctx, cmd.OutOrStdout(), hw, model.Calibration{FullDistance: calFullDistance}, policy)
	}
	if calAnnotate != "" {
		return errors.New("--annotate needs --full-distance")
	}
	return calibratePlatform(ctx, cmd.OutOrStdout(), hw)
}

func calibratePlatform(ctx context.Context, out io.Writer, hw *app.Hardware) error {
	cal, err := hw.Ranging.Calibrate(ctx)
	if err != nil {
		return err
	}
	frame, err := hw.Camera.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	cal, err = hw.Estimator.CalibrateFrame(ctx, frame, cal)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "full_distance_mm: %.1f\npixels_per_mm: %.4f\n", cal.FullDistance, cal.PixelsPerMetric)
	return err
}

func measureObject(ctx context.Context, out io.Writer, hw *app.Hardware, cal model.Calibration, policy corevision.Policy) error {
	depth, err := hw.Ranging.MeasureDistance(ctx)
	if err != nil {
		return err
	}
	frame, err := hw.Camera.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	m, err := hw.Estimator.Estimate(ctx, frame, cal, depth, policy)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "policy: %s\ndepth_mm: %.1f\nlength_mm: %.1f\nwidth_mm: %.1f\nheight_mm: %.1f\n",
		m.Policy, depth, m.Dimensions.Length, m.Dimensions.Width, m.Dimensions.Height); err != nil {
		return err
	}
	if calAnnotate == "" {
		return nil
	}
	img, err := infravision.Annotate(frame, m)
	if err != nil {
		return err
	}
	return os.WriteFile(calAnnotate, img, 0o644)
}
