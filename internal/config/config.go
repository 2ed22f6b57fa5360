package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts "30m" style values in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type Catalog struct {
	ConnectionString string `yaml:"connection_string" validate:"required"`
	Table            string `yaml:"table"`
}

// Layer configures one catalog layer: its geographic level, the command that
// refreshes its table, and a display category for summaries.
type Layer struct {
	Level         string `yaml:"level" validate:"omitempty,oneof=state state_county state_county_city"`
	UpdateCommand string `yaml:"update_command"`
	Category      string `yaml:"category"`
}

type Pipeline struct {
	WorkRoot       string   `yaml:"work_root" validate:"required"`
	ToolsDir       string   `yaml:"tools_dir"`
	LedgerDir      string   `yaml:"ledger_dir"`
	Workers        int      `yaml:"workers" validate:"gte=0"`
	CommandTimeout Duration `yaml:"command_timeout"`

	// SkipEntities lists ids that are known-broken upstream and recorded as
	// skipped without running any stage.
	SkipEntities []string `yaml:"skip_entities"`

	// IsolateLogs writes a per-entity log file under the entity work
	// directory in addition to the shared log stream.
	IsolateLogs bool `yaml:"isolate_logs"`

	// WorkDirAliases maps an entity id to the directory name of another
	// entity whose download it shares.
	WorkDirAliases map[string]string `yaml:"work_dir_aliases"`
}

type Cartographer struct {
	Global   Global           `yaml:"global"`
	Catalog  Catalog          `yaml:"catalog" validate:"required"`
	Pipeline Pipeline         `yaml:"pipeline" validate:"required"`
	Layers   map[string]Layer `yaml:"layers"`
	Rules    string           `yaml:"rules"`
}

// LayerLevels returns the layer name to level mapping for layers that
// override the default city level.
func (c *Cartographer) LayerLevels() map[string]string {
	levels := make(map[string]string)
	for name, layer := range c.Layers {
		if layer.Level != "" {
			levels[name] = layer.Level
		}
	}
	return levels
}

// LayerCommands returns the per-layer update command templates.
func (c *Cartographer) LayerCommands() map[string]string {
	commands := make(map[string]string)
	for name, layer := range c.Layers {
		if layer.UpdateCommand != "" {
			commands[name] = layer.UpdateCommand
		}
	}
	return commands
}

// NewCartographerFromFile loads, expands, validates, and defaults a config
// file. A .env file in the working directory is loaded first so ${VARS} in
// the connection string can come from it.
func NewCartographerFromFile(fpath string) (*Cartographer, error) {
	_ = godotenv.Load()

	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var c Cartographer
	if err := yaml.Unmarshal(bs, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Catalog.ConnectionString = os.ExpandEnv(c.Catalog.ConnectionString)

	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if c.Global.Logger.Level == "" {
		c.Global.Logger.Level = "info"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 1
	}
	if c.Pipeline.CommandTimeout == 0 {
		c.Pipeline.CommandTimeout = Duration(30 * time.Minute)
	}
	if c.Pipeline.LedgerDir == "" {
		c.Pipeline.LedgerDir = c.Pipeline.WorkRoot
	}
	return &c, nil
}
