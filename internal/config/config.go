// Package config holds the shared configuration for the conversion and
// playback passes. Both read the same YAML file so that panel geometry is
// guaranteed to agree between the two; a geometry mismatch at playback time
// is a configuration error, never silently tolerated.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// USBConfig identifies the controller on the USB bus. The defaults match the
// IT8951's fixed vendor/product IDs and only need overriding for clones that
// re-enumerate under a different ID.
type USBConfig struct {
	VendorID  uint16 `yaml:"vendor_id" json:"vendor_id"`
	ProductID uint16 `yaml:"product_id" json:"product_id"`
}

// Config is the top-level application configuration.
type Config struct {
	// Width and Height are the video geometry on the panel, in pixels.
	// Width*Height must be divisible by 8 so frames pack to whole bytes.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Take renders only every nth stored frame during playback, trading
	// source framerate for the panel's sustainable refresh rate.
	Take int `yaml:"take" json:"take"`

	// Ghost forces a full grayscale refresh every nth displayed frame to
	// clear ghosting accumulated by the fast partial mode.
	Ghost int `yaml:"ghost" json:"ghost"`

	// VCOM is the panel bias voltage in volts (negative, panel-specific,
	// printed on the flex cable). Passed through to the controller.
	VCOM float64 `yaml:"vcom" json:"vcom"`

	// Schedule is an optional cron expression; when set, it8951-play runs
	// as a signage daemon and replays the clip at each tick.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// USB selects the controller on the bus.
	USB USBConfig `yaml:"usb" json:"usb"`
}

// Defaults match the original reference setup: a 10.3" 1872x1404 panel driven
// at 1856x1392 (largest byte-aligned area), every 5th frame, GL16 clear every
// 32 displayed frames.
func DefaultConfig() *Config {
	return &Config{
		Width:    1856,
		Height:   1392,
		Take:     5,
		Ghost:    32,
		VCOM:     -1.58,
		LogLevel: "info",
		USB: USBConfig{
			VendorID:  0x048d,
			ProductID: 0x8951,
		},
	}
}

// Normalize fills in missing/zero values so partially filled config files
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.Take == 0 {
		c.Take = def.Take
	}
	if c.Ghost == 0 {
		c.Ghost = def.Ghost
	}
	if c.VCOM == 0 {
		c.VCOM = def.VCOM
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.USB.VendorID == 0 {
		c.USB.VendorID = def.USB.VendorID
	}
	if c.USB.ProductID == 0 {
		c.USB.ProductID = def.USB.ProductID
	}
}

// Validate rejects configurations the codec or the controller cannot serve.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: invalid geometry %dx%d", c.Width, c.Height)
	}
	if (c.Width*c.Height)%8 != 0 {
		return fmt.Errorf("config: %dx%d pixels do not pack to whole bytes", c.Width, c.Height)
	}
	if c.Take < 1 {
		return fmt.Errorf("config: take must be >= 1, got %d", c.Take)
	}
	if c.Ghost < 1 {
		return fmt.Errorf("config: ghost must be >= 1, got %d", c.Ghost)
	}
	if c.VCOM < -5.0 || c.VCOM >= 0 {
		return fmt.Errorf("config: vcom %.2f out of range [-5.0, 0)", c.VCOM)
	}
	return nil
}

// FrameSize is the packed 1bpp frame size in bytes.
func (c *Config) FrameSize() int {
	return c.Width * c.Height / 8
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600,
// parent directory created as needed) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".it8951-video-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
