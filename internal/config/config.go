package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/allenlavoie/topic-pov/internal/store"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Model     Model     `yaml:"model"`
	Sampler   Sampler   `yaml:"sampler"`
	Inference Inference `yaml:"inference"`
	Estimate  Estimate  `yaml:"estimate"`
	Ingest    Ingest    `yaml:"ingest"`
	Report    Report    `yaml:"report"`
	Factions  Factions  `yaml:"factions"`
	Ledger    Ledger    `yaml:"ledger"`
	Server    Server    `yaml:"server"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
}

// Model holds the cardinalities and priors written at initialization.
type Model struct {
	Topics       int32   `yaml:"topics"`
	PovsPerTopic int32   `yaml:"povs_per_topic"`
	PsiAlpha     float64 `yaml:"psi_alpha"`
	PsiBeta      float64 `yaml:"psi_beta"`
	GammaAlpha   float64 `yaml:"gamma_alpha"`
	GammaBeta    float64 `yaml:"gamma_beta"`
	Beta         float64 `yaml:"beta"`
	Alpha        float64 `yaml:"alpha"`
}

type Sampler struct {
	Threads  int    `yaml:"threads"`
	Seed     uint64 `yaml:"seed"`
	OpenMode string `yaml:"open_mode"`
}

type Inference struct {
	Iterations        int  `yaml:"iterations"`
	SaveEvery         int  `yaml:"save_every"`
	ComputeLikelihood bool `yaml:"compute_likelihood"`
	CompressSnapshots bool `yaml:"compress_snapshots"`
}

type Estimate struct {
	Trials             int `yaml:"trials"`
	IterationsPerTrial int `yaml:"iterations_per_trial"`
	MaximizeIterations int `yaml:"maximize_iterations"`
}

type Ingest struct {
	SkipMalformed bool `yaml:"skip_malformed"`
}

type Report struct {
	OutputDir string `yaml:"output_dir"`
}

type Factions struct {
	DistanceThreshold float64 `yaml:"distance_threshold"`
	MinEdits          int     `yaml:"min_edits"`
	MaxUsers          int     `yaml:"max_users"`
}

type Ledger struct {
	Path string `yaml:"path"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for topicpov.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "topicpov")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/topicpov/config.yaml > ./config.yaml
// It returns "" with no error when nothing is found, meaning the embedded
// defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields the
// embedded defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(DefaultConfigYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Model: Model{
			Topics:       10,
			PovsPerTopic: 2,
			PsiAlpha:     1,
			PsiBeta:      1,
			GammaAlpha:   1,
			GammaBeta:    1,
			Beta:         0.1,
			Alpha:        0.1,
		},
		Sampler:   Sampler{OpenMode: "staged"},
		Inference: Inference{Iterations: 100, ComputeLikelihood: true},
		Estimate:  Estimate{Trials: 10, IterationsPerTrial: 20, MaximizeIterations: 10},
		Report:    Report{OutputDir: "."},
		Factions:  Factions{DistanceThreshold: 0.5, MinEdits: 5, MaxUsers: 2000},
		Server:    Server{Port: 8000},
		Logging:   Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Hyperparameters converts the model section.
func (c *Config) Hyperparameters() store.Hyperparameters {
	return store.Hyperparameters{
		Topics:     c.Model.Topics,
		Povs:       c.Model.PovsPerTopic,
		PsiAlpha:   c.Model.PsiAlpha,
		PsiBeta:    c.Model.PsiBeta,
		GammaAlpha: c.Model.GammaAlpha,
		GammaBeta:  c.Model.GammaBeta,
		Beta:       c.Model.Beta,
		Alpha:      c.Model.Alpha,
	}
}

// OpenMode parses sampler.open_mode.
func (c *Config) OpenMode() (store.Mode, error) {
	return store.ParseMode(c.Sampler.OpenMode)
}

// LedgerPath returns the ledger database for a model directory.
func (c *Config) LedgerPath(modelDir string) string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(modelDir, "ledger.db")
}

// Validate reports every setting the model or sampler cannot use.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Hyperparameters().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.OpenMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Sampler.Threads < 0 {
		errs = append(errs, fmt.Errorf("sampler.threads must not be negative, got %d", c.Sampler.Threads))
	}
	if c.Inference.Iterations < 0 || c.Inference.SaveEvery < 0 {
		errs = append(errs, fmt.Errorf("inference counts must not be negative"))
	}
	if c.Factions.DistanceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("factions.distance_threshold must be positive, got %g", c.Factions.DistanceThreshold))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
