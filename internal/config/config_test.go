package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 1856 || cfg.Height != 1392 {
		t.Errorf("default geometry = %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Take != 5 || cfg.Ghost != 32 {
		t.Errorf("default cadence take=%d ghost=%d", cfg.Take, cfg.Ghost)
	}
	if cfg.VCOM != -1.58 {
		t.Errorf("default vcom = %v", cfg.VCOM)
	}
	if cfg.USB.VendorID != 0x048d || cfg.USB.ProductID != 0x8951 {
		t.Errorf("default usb ids = %04x:%04x", cfg.USB.VendorID, cfg.USB.ProductID)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "width: 800\nheight: 600\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 800 || cfg.Height != 600 {
		t.Errorf("geometry = %dx%d, want 800x600", cfg.Width, cfg.Height)
	}
	if cfg.Take != 5 {
		t.Errorf("take not defaulted: %d", cfg.Take)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level not defaulted: %q", cfg.LogLevel)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	in := DefaultConfig()
	in.Width = 1200
	in.Height = 825
	in.Schedule = "0 9 * * *"
	if err := in.Save(path); err != nil {
		t.Fatal(err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 1200 || out.Height != 825 {
		t.Errorf("geometry = %dx%d", out.Width, out.Height)
	}
	if out.Schedule != "0 9 * * *" {
		t.Errorf("schedule = %q", out.Schedule)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative width", func(c *Config) { c.Width = -1 }, true},
		{"pixels not byte aligned", func(c *Config) { c.Width = 3; c.Height = 3 }, true},
		{"take negative", func(c *Config) { c.Take = -2 }, true},
		{"ghost negative", func(c *Config) { c.Ghost = -2 }, true},
		{"vcom positive", func(c *Config) { c.VCOM = 1.58 }, true},
		{"vcom too low", func(c *Config) { c.VCOM = -5.5 }, true},
		{"vcom at lower bound", func(c *Config) { c.VCOM = -5.0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FrameSize() != 322944 {
		t.Errorf("FrameSize() = %d, want 322944", cfg.FrameSize())
	}
}
