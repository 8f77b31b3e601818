package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kilianp07/parlock/core/factory"
	"github.com/kilianp07/parlock/core/orchestrator"
	"github.com/kilianp07/parlock/core/ranging"
	"github.com/kilianp07/parlock/core/vision"
)

// LockerConfig identifies the installation towards the ledger.
type LockerConfig struct {
	ID               string `json:"id"`
	VerificationCode string `json:"verification_code"`
}

func (c LockerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.VerificationCode == "" {
		return fmt.Errorf("verification_code is required")
	}
	return nil
}

// LedgerConfig points at the ledger service.
type LedgerConfig struct {
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// MockAddress is where the ledger-mock command listens.
	MockAddress string `json:"mock_address"`
}

func (c *LedgerConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
	if c.MockAddress == "" {
		c.MockAddress = ":8000"
	}
}

func (c LedgerConfig) Validate() error {
	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("address must be an absolute URL, got %q", c.Address)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	return nil
}

func (c LedgerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RangingConfig selects the distance sensor driver and the sampling.
type RangingConfig struct {
	// Sensor is built by the ranging registry: gpio, serial or static.
	Sensor   factory.ModuleConfig `json:"sensor"`
	Samples  int                  `json:"samples"`
	SettleMS int                  `json:"settle_ms"`
}

func (c *RangingConfig) SetDefaults() {
	if c.Sensor.Type == "" {
		c.Sensor.Type = "gpio"
	}
	if c.Samples == 0 {
		c.Samples = ranging.DefaultSamples
	}
	if c.SettleMS == 0 {
		c.SettleMS = 60
	}
}

func (c RangingConfig) Validate() error {
	if c.Samples < 1 {
		return fmt.Errorf("samples must be positive")
	}
	if c.Samples%2 == 0 {
		return fmt.Errorf("samples must be odd, got %d", c.Samples)
	}
	return nil
}

func (c RangingConfig) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

// CameraConfig selects the still source.
type CameraConfig struct {
	// Source is "device" for a video device or "file" to replay Files.
	Source     string   `json:"source"`
	Device     string   `json:"device"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Warmup     int      `json:"warmup"`
	Files      []string `json:"files"`
	SaveDir    string   `json:"save_dir"`
	ThumbWidth int      `json:"thumb_width"`
}

func (c *CameraConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = "device"
	}
	if c.Device == "" {
		c.Device = "0"
	}
	if c.Width == 0 {
		c.Width = 1280
	}
	if c.Height == 0 {
		c.Height = 720
	}
}

func (c CameraConfig) Validate() error {
	switch c.Source {
	case "device":
		return nil
	case "file":
		if len(c.Files) == 0 {
			return fmt.Errorf("file source needs files")
		}
		return nil
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
}

// VisionConfig tunes dimension estimation.
type VisionConfig struct {
	FiducialMM  float64 `json:"fiducial_mm"`
	MinArea     float64 `json:"min_area"`
	FilterRatio float64 `json:"filter_ratio"`
	Policy      string  `json:"policy"`
	BlurKernel  int     `json:"blur_kernel"`
	CannyLow    float32 `json:"canny_low"`
	CannyHigh   float32 `json:"canny_high"`
}

func (c *VisionConfig) SetDefaults() {
	if c.FiducialMM == 0 {
		c.FiducialMM = vision.DefaultFiducialSize
	}
	if c.MinArea == 0 {
		c.MinArea = vision.DefaultMinArea
	}
	if c.FilterRatio == 0 {
		c.FilterRatio = vision.DefaultFilterRatio
	}
	if c.Policy == "" {
		c.Policy = vision.DistanceCorrected.String()
	}
}

func (c VisionConfig) Validate() error {
	if c.FiducialMM <= 0 {
		return fmt.Errorf("fiducial_mm must be positive")
	}
	if c.FilterRatio <= 0 || c.FilterRatio >= 1 {
		return fmt.Errorf("filter_ratio must be in (0,1)")
	}
	if _, ok := vision.ParsePolicy(c.Policy); !ok {
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	return nil
}

// Estimator returns the core estimator settings.
func (c VisionConfig) Estimator() vision.Config {
	return vision.Config{FiducialSize: c.FiducialMM, MinArea: c.MinArea, FilterRatio: c.FilterRatio}
}

// OrchestratorConfig tunes the scan loop.
type OrchestratorConfig struct {
	TriggerFraction float64 `json:"trigger_fraction"`
	GraceSeconds    float64 `json:"grace_seconds"`
	ResetSeconds    float64 `json:"reset_seconds"`
	PollMS          int     `json:"poll_ms"`
	SafetyMargin    float64 `json:"safety_margin"`
	LockAttempts    int     `json:"lock_attempts"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.TriggerFraction == 0 {
		c.TriggerFraction = orchestrator.DefaultTriggerFraction
	}
	if c.GraceSeconds == 0 {
		c.GraceSeconds = orchestrator.DefaultGrace.Seconds()
	}
	if c.ResetSeconds == 0 {
		c.ResetSeconds = orchestrator.DefaultResetPause.Seconds()
	}
	if c.PollMS == 0 {
		c.PollMS = int(orchestrator.DefaultPollInterval / time.Millisecond)
	}
}

func (c OrchestratorConfig) Validate() error {
	return c.Core(vision.DistanceCorrected).Validate()
}

// Core converts the section into orchestrator settings.
func (c OrchestratorConfig) Core(p vision.Policy) orchestrator.Config {
	cfg := orchestrator.Config{
		TriggerFraction: c.TriggerFraction,
		Grace:           time.Duration(c.GraceSeconds * float64(time.Second)),
		ResetPause:      time.Duration(c.ResetSeconds * float64(time.Second)),
		PollInterval:    time.Duration(c.PollMS) * time.Millisecond,
		SafetyMargin:    c.SafetyMargin,
		Policy:          p,
		LockAttempts:    c.LockAttempts,
	}
	cfg.SetDefaults()
	return cfg
}
