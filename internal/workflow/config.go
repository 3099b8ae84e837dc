// File path: internal/workflow/config.go
package workflow

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nchandrav/phasegate/internal/common"
)

// Config holds the manager's operational settings.
type Config struct {
	// DataRoot is where session inputs, outputs, and snapshots live.
	DataRoot string
	// GenerationTimeout bounds a single model call. A timed-out artifact
	// fails the phase; regeneration is always an explicit user action.
	GenerationTimeout time.Duration
	// MaxDocFiles and MaxDocChars bound corpus ingestion.
	MaxDocFiles int
	MaxDocChars int
}

// LoadConfig reads settings from the environment and applies defaults.
func LoadConfig() Config {
	logger := common.Logger()
	cfg := Config{}
	if root := strings.TrimSpace(os.Getenv("PHASEGATE_DATA_ROOT")); root != "" {
		cfg.DataRoot = root
	}
	if raw := strings.TrimSpace(os.Getenv("PHASEGATE_GENERATION_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("workflow: invalid PHASEGATE_GENERATION_TIMEOUT, using default", "value", raw, "error", err)
		} else {
			cfg.GenerationTimeout = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("PHASEGATE_MAX_DOC_FILES")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxDocFiles = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("PHASEGATE_MAX_DOC_CHARS")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxDocChars = value
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataRoot) == "" {
		c.DataRoot = "data"
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 2 * time.Minute
	}
	if c.MaxDocFiles <= 0 {
		c.MaxDocFiles = 25
	}
	if c.MaxDocChars <= 0 {
		c.MaxDocChars = 12000
	}
}
