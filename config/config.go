package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/parlock/core/metrics"
	"github.com/kilianp07/parlock/infra/audit"
	"github.com/kilianp07/parlock/infra/mqtt"
)

type Config struct {
	Locker       LockerConfig       `json:"locker"`
	Ledger       LedgerConfig       `json:"ledger"`
	MQTT         mqtt.Config        `json:"mqtt"`
	Ranging      RangingConfig      `json:"ranging"`
	Camera       CameraConfig       `json:"camera"`
	Vision       VisionConfig       `json:"vision"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Metrics      metrics.Config     `json:"metrics"`
	Audit        audit.Config       `json:"audit"`
	Sentry       SentryConfig       `json:"sentry"`
	Logging      LoggingConfig      `json:"logging"`
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

// Load reads path, applies K_ environment overrides (K_LEDGER__ADDRESS sets
// ledger.address), fills defaults and validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, nested on "__".
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "K_"))
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Ledger.SetDefaults()
	c.Ranging.SetDefaults()
	c.Camera.SetDefaults()
	c.Vision.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Audit.SetDefaults()
	c.Logging.SetDefaults()
	if c.MQTT.ClientID == "" && c.Locker.ID != "" {
		c.MQTT.ClientID = "parlock-" + c.Locker.ID
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"locker", c.Locker.Validate},
		{"ledger", c.Ledger.Validate},
		{"ranging", c.Ranging.Validate},
		{"camera", c.Camera.Validate},
		{"vision", c.Vision.Validate},
		{"orchestrator", c.Orchestrator.Validate},
		{"audit", c.Audit.Validate},
		{"sentry", c.Sentry.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// SaveVerificationCode rewrites locker.verification_code in the file at
// path, keeping the other keys. The file is replaced atomically.
func SaveVerificationCode(path, code string) error {
	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return err
	}
	if err := k.Set("locker.verification_code", code); err != nil {
		return err
	}
	data, err := k.Marshal(parser)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// CodeFile persists rotated verification codes into a config file.
type CodeFile struct {
	Path string
}

func (f CodeFile) SaveVerificationCode(code string) error {
	return SaveVerificationCode(f.Path, code)
}
