package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gridlock/server/internal/game"
	"gridlock/server/internal/sector"
)

// Config captures the tunable surface of one shard. Zero fields fall back
// to defaults, so a partial YAML file only overrides what it names.
type Config struct {
	ListenAddr string `yaml:"listen"`
	QUICAddr   string `yaml:"quicListen"`

	// TLS certificate for the QUIC listener. When both are empty a
	// self-signed development certificate is generated at startup.
	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`

	// Seed drives deterministic world generation; the same seed always
	// produces the same mineral layout.
	Seed string `yaml:"seed"`

	TickRate         int `yaml:"tickRate"`
	VisibilityRadius int `yaml:"visibilityRadius"`
	InputWindow      int `yaml:"inputWindow"`
	KeyframeInterval int `yaml:"keyframeInterval"`

	Journal JournalConfig `yaml:"journal"`
	Field   FieldConfig   `yaml:"field"`
}

// JournalConfig bounds the keyframe retention window.
type JournalConfig struct {
	Capacity int           `yaml:"capacity"`
	MaxAge   time.Duration `yaml:"maxAge"`
}

// FieldConfig sizes the playfield and the simulated populations.
type FieldConfig struct {
	Cols             int `yaml:"cols"`
	Rows             int `yaml:"rows"`
	Scale            int `yaml:"scale"`
	PlayerSpeed      int `yaml:"playerSpeed"`
	PlayerKeepalive  int `yaml:"playerKeepalive"`
	MineralKeepalive int `yaml:"mineralKeepalive"`
}

// DefaultConfig returns the configuration a shard runs with when no file
// overrides it.
func DefaultConfig() Config {
	g := game.DefaultConfig()
	return Config{
		ListenAddr:       ":8080",
		Seed:             game.DefaultSeed,
		TickRate:         defaultTickRate,
		VisibilityRadius: defaultVisibilityRadius,
		InputWindow:      defaultInputWindow,
		KeyframeInterval: defaultKeyframeInterval,
		Journal: JournalConfig{
			Capacity: defaultJournalCapacity,
			MaxAge:   defaultJournalMaxAge,
		},
		Field: FieldConfig{
			Cols:             g.Grid.Cols,
			Rows:             g.Grid.Rows,
			Scale:            g.Grid.Scale,
			PlayerSpeed:      g.PlayerSpeed,
			PlayerKeepalive:  g.PlayerKeepalive,
			MineralKeepalive: g.MineralKeepalive,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the tick loop cannot run with.
func (c Config) Validate() error {
	if c.TickRate < 1 || c.TickRate > 240 {
		return fmt.Errorf("tickRate %d out of range [1,240]", c.TickRate)
	}
	if c.Field.Cols < 1 || c.Field.Rows < 1 || c.Field.Scale < 1 {
		return fmt.Errorf("field %dx%d scale %d must be positive", c.Field.Cols, c.Field.Rows, c.Field.Scale)
	}
	if c.VisibilityRadius < 1 {
		return fmt.Errorf("visibilityRadius %d must be positive", c.VisibilityRadius)
	}
	if c.InputWindow < 1 {
		return fmt.Errorf("inputWindow %d must be positive", c.InputWindow)
	}
	if c.KeyframeInterval < 1 {
		return fmt.Errorf("keyframeInterval %d must be positive", c.KeyframeInterval)
	}
	if c.Journal.Capacity < 0 {
		return fmt.Errorf("journal capacity %d must not be negative", c.Journal.Capacity)
	}
	return nil
}

// GameConfig converts the field settings into the shard's world config.
func (c Config) GameConfig() game.Config {
	return game.Config{
		Grid:             sector.NewGrid(c.Field.Cols, c.Field.Rows, c.Field.Scale),
		PlayerSpeed:      c.Field.PlayerSpeed,
		PlayerKeepalive:  c.Field.PlayerKeepalive,
		MineralKeepalive: c.Field.MineralKeepalive,
	}
}
