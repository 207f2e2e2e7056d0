// Package config loads the engine's TOML configuration and fills in defaults for anything left unset.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration document.
type Config struct {
	Renderer RendererConfig `toml:"renderer"`
	Bindless BindlessConfig `toml:"bindless"`
	Frame    FrameConfig    `toml:"frame"`
	Sprites  SpriteConfig   `toml:"sprites"`
	Overlay  OverlayConfig  `toml:"overlay"`
	Assets   AssetConfig    `toml:"assets"`
	Logging  LoggingConfig  `toml:"logging"`
}

// RendererConfig controls device and surface creation.
type RendererConfig struct {
	// FramesInFlight is the depth of the frame-resource ring. Must be at least 2.
	FramesInFlight int `toml:"frames_in_flight"`
	// PresentMode is one of "fifo", "mailbox" or "immediate".
	PresentMode string `toml:"present_mode"`
	// MSAA is the sample count of the scene pass (1 or 4).
	MSAA int `toml:"msaa"`
	// Validation enables contract checks that are skipped in the hot path otherwise.
	Validation bool `toml:"validation"`
}

// BindlessConfig sizes the bindless texture table.
type BindlessConfig struct {
	Capacity  int `toml:"capacity"`
	LayerSize int `toml:"layer_size"`
}

// FrameConfig sizes the per-frame uniform regions.
type FrameConfig struct {
	RecordsPerFrame int `toml:"records_per_frame"`
	RecordAlignment int `toml:"record_alignment"`
}

// SpriteConfig sizes the sprite batcher.
type SpriteConfig struct {
	BatchCapacity int `toml:"batch_capacity"`
}

// OverlayConfig controls GUI overlay compositing.
type OverlayConfig struct {
	Enabled        bool    `toml:"enabled"`
	PixelsPerPoint float32 `toml:"pixels_per_point"`
}

// AssetConfig controls texture decoding and hot reload.
type AssetConfig struct {
	TextureDir    string `toml:"texture_dir"`
	Watch         bool   `toml:"watch"`
	DecodeWorkers int    `toml:"decode_workers"`
}

// LoggingConfig controls the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

const (
	MinFramesInFlight      = 2
	DefaultFramesInFlight  = 2
	DefaultBindlessSlots   = 128
	DefaultLayerSize       = 512
	DefaultRecordsPerFrame = 64
	DefaultRecordAlignment = 256
	DefaultBatchCapacity   = 4096
	DefaultDecodeWorkers   = 4

	// maxBindlessSlots keeps the table clear of the 0xFFFFFFFF sentinel and inside
	// what a texture array can hold on common adapters.
	maxBindlessSlots = 2048
)

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Renderer: RendererConfig{
			FramesInFlight: DefaultFramesInFlight,
			PresentMode:    "fifo",
			MSAA:           4,
		},
		Bindless: BindlessConfig{Capacity: DefaultBindlessSlots, LayerSize: DefaultLayerSize},
		Frame:    FrameConfig{RecordsPerFrame: DefaultRecordsPerFrame, RecordAlignment: DefaultRecordAlignment},
		Sprites:  SpriteConfig{BatchCapacity: DefaultBatchCapacity},
		Overlay:  OverlayConfig{Enabled: true, PixelsPerPoint: 1},
		Assets:   AssetConfig{TextureDir: "assets/textures", DecodeWorkers: DefaultDecodeWorkers},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the TOML file at path.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the parsed configuration with defaults applied
//   - error: an error if the file cannot be read, parsed, or fails validation
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML document. Unknown keys are rejected so typos surface at startup.
//
// Parameters:
//   - data: the TOML document
//
// Returns:
//   - Config: the parsed configuration with defaults applied
//   - error: an error if decoding or validation fails
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration back to TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Validate checks the configuration for values the renderer cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Renderer.FramesInFlight < MinFramesInFlight {
		errs = append(errs, fmt.Errorf("renderer.frames_in_flight must be >= %d, got %d", MinFramesInFlight, c.Renderer.FramesInFlight))
	}
	switch c.Renderer.PresentMode {
	case "fifo", "mailbox", "immediate":
	default:
		errs = append(errs, fmt.Errorf("renderer.present_mode %q is not one of fifo, mailbox, immediate", c.Renderer.PresentMode))
	}
	if c.Renderer.MSAA != 1 && c.Renderer.MSAA != 4 {
		errs = append(errs, fmt.Errorf("renderer.msaa must be 1 or 4, got %d", c.Renderer.MSAA))
	}
	if c.Bindless.Capacity <= 0 || c.Bindless.Capacity > maxBindlessSlots {
		errs = append(errs, fmt.Errorf("bindless.capacity must be in [1, %d], got %d", maxBindlessSlots, c.Bindless.Capacity))
	}
	if c.Bindless.LayerSize <= 0 {
		errs = append(errs, fmt.Errorf("bindless.layer_size must be positive, got %d", c.Bindless.LayerSize))
	}
	if c.Frame.RecordsPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("frame.records_per_frame must be positive, got %d", c.Frame.RecordsPerFrame))
	}
	if a := c.Frame.RecordAlignment; a <= 0 || a&(a-1) != 0 {
		errs = append(errs, fmt.Errorf("frame.record_alignment must be a power of two, got %d", a))
	}
	if c.Sprites.BatchCapacity <= 0 {
		errs = append(errs, fmt.Errorf("sprites.batch_capacity must be positive, got %d", c.Sprites.BatchCapacity))
	}
	if c.Overlay.PixelsPerPoint <= 0 {
		errs = append(errs, fmt.Errorf("overlay.pixels_per_point must be positive, got %v", c.Overlay.PixelsPerPoint))
	}
	if c.Assets.DecodeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("assets.decode_workers must be positive, got %d", c.Assets.DecodeWorkers))
	}
	return errors.Join(errs...)
}
