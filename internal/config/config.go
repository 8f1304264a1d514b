// Package config loads run configuration from defaults, a YAML file, an
// optional .env file and GERRYSORT_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Dataset    DatasetConfig    `yaml:"dataset" json:"dataset"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Sweep      SweepConfig      `yaml:"sweep" json:"sweep"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	API        APIConfig        `yaml:"api" json:"api"`
}

// SimulationConfig holds every tunable of one run.
type SimulationConfig struct {
	Tolerance      float64 `yaml:"tolerance" json:"tolerance"`
	Beta           float64 `yaml:"beta" json:"beta"`
	Epsilon        float64 `yaml:"epsilon" json:"epsilon"`
	Sigma          float64 `yaml:"sigma" json:"sigma"`
	EnsembleSize   int     `yaml:"ensemble_size" json:"ensemble_size"`
	NMovingOptions int     `yaml:"n_moving_options" json:"n_moving_options"`
	MovingCooldown int     `yaml:"moving_cooldown" json:"moving_cooldown"`
	DistanceDecay  float64 `yaml:"distance_decay" json:"distance_decay"`
	CapacityMul    float64 `yaml:"capacity_mul" json:"capacity_mul"`
	MaxRounds      int     `yaml:"max_rounds" json:"max_rounds"`
	NPop           int     `yaml:"npop" json:"npop"`

	Sorting        bool   `yaml:"sorting" json:"sorting"`
	Gerrymandering bool   `yaml:"gerrymandering" json:"gerrymandering"`
	Order          string `yaml:"order" json:"order"`
	ControlRule    string `yaml:"control_rule" json:"control_rule"`
	InitialControl string `yaml:"initial_control" json:"initial_control"`
	Election       string `yaml:"election" json:"election"`

	Intervention       string  `yaml:"intervention" json:"intervention"`
	InterventionWeight float64 `yaml:"intervention_weight" json:"intervention_weight"`
	CompetitiveMargin  float64 `yaml:"competitive_margin" json:"competitive_margin"`

	RedistrictAttempts int           `yaml:"redistrict_attempts" json:"redistrict_attempts"`
	RedistrictTimeout  time.Duration `yaml:"redistrict_timeout" json:"redistrict_timeout"`
	Seed               int64         `yaml:"seed" json:"seed"`
	SavePlans          bool          `yaml:"save_plans" json:"save_plans"`

	Utility UtilityConfig `yaml:"utility" json:"utility"`
}

// UtilityConfig weights the household utility.
type UtilityConfig struct {
	Scale            float64    `yaml:"scale" json:"scale"`
	Alpha            []float64  `yaml:"alpha" json:"alpha"`
	Mode             string     `yaml:"mode" json:"mode"`
	PrecinctMismatch float64    `yaml:"precinct_mismatch" json:"precinct_mismatch"`
	CountyMismatch   float64    `yaml:"county_mismatch" json:"county_mismatch"`
	DistrictMismatch float64    `yaml:"district_mismatch" json:"district_mismatch"`
	Urbanicity       Urbanicity `yaml:"urbanicity" json:"urbanicity"`
}

// Urbanicity is each party's preference for rural, small town, large town
// and urban counties, in that order.
type Urbanicity struct {
	Red  []float64 `yaml:"red" json:"red"`
	Blue []float64 `yaml:"blue" json:"blue"`
}

// DatasetConfig names the input. With no precinct file a synthetic world
// is generated.
type DatasetConfig struct {
	Precincts string         `yaml:"precincts" json:"precincts"`
	Counties  string         `yaml:"counties" json:"counties"`
	Generate  GenerateConfig `yaml:"generate" json:"generate"`
}

// GenerateConfig sizes the synthetic world.
type GenerateConfig struct {
	Cols            int `yaml:"cols" json:"cols"`
	Rows            int `yaml:"rows" json:"rows"`
	CountySize      int `yaml:"county_size" json:"county_size"`
	Congressional   int `yaml:"congressional" json:"congressional"`
	HouseDistricts  int `yaml:"house_districts" json:"house_districts"`
	SenateDistricts int `yaml:"senate_districts" json:"senate_districts"`
	Centers         int `yaml:"centers" json:"centers"`
}

// StorageConfig selects the result database.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" json:"dsn"`
	CSV    string `yaml:"csv" json:"csv"`
}

// SweepConfig drives parameter sweeps.
type SweepConfig struct {
	Workers     int                 `yaml:"workers" json:"workers"`
	MaxAttempts int                 `yaml:"max_attempts" json:"max_attempts"`
	Repeats     int                 `yaml:"repeats" json:"repeats"`
	Queue       string              `yaml:"queue" json:"queue"` // memory or redis
	RedisAddr   string              `yaml:"redis_addr" json:"redis_addr"`
	RedisKey    string              `yaml:"redis_key" json:"redis_key"`
	Grid        map[string][]string `yaml:"grid" json:"grid"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// APIConfig configures the status server.
type APIConfig struct {
	Addr      string  `yaml:"addr" json:"addr"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"` // Requests per second per client
	Burst     int     `yaml:"burst" json:"burst"`
	AdminKey  string  `yaml:"admin_key" json:"-"` // Bearer token for POST endpoints, empty disables them
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Tolerance:          0.5,
			Beta:               100,
			Epsilon:            0.01,
			Sigma:              0.01,
			EnsembleSize:       250,
			NMovingOptions:     10,
			CapacityMul:        1.0,
			MaxRounds:          4,
			NPop:               11000,
			Sorting:            true,
			Gerrymandering:     true,
			Order:              "gerrymander_then_sort",
			ControlRule:        "congressional",
			InitialControl:     "model",
			Election:           "PRES20",
			Intervention:       "none",
			CompetitiveMargin:  0.1,
			RedistrictAttempts: 3,
			Utility: UtilityConfig{
				Scale:            1,
				Alpha:            []float64{1, 1, 1, 1},
				Mode:             "multiplicative",
				PrecinctMismatch: 0.25,
				CountyMismatch:   0.5,
				DistrictMismatch: 0.75,
				Urbanicity: Urbanicity{
					Red:  []float64{1, 1, 0.75, 0.5},
					Blue: []float64{0.5, 0.75, 1, 1},
				},
			},
		},
		Dataset: DatasetConfig{
			Generate: GenerateConfig{
				Cols:            24,
				Rows:            24,
				CountySize:      4,
				Congressional:   4,
				HouseDistricts:  12,
				SenateDistricts: 6,
				Centers:         3,
			},
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "gerrysort.db",
		},
		Sweep: SweepConfig{
			Workers:     4,
			MaxAttempts: 3,
			Repeats:     1,
			Queue:       "memory",
			RedisAddr:   "localhost:6379",
			RedisKey:    "gerrysort:jobs",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		API:     APIConfig{Addr: ":8080", RateLimit: 10, Burst: 20},
	}
}

// Load reads path (optional) over the defaults, then the .env file at
// envFile (optional), then environment overrides.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=value pairs into the process environment without
// overriding variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Simulation.Utility.Alpha = append([]float64(nil), c.Simulation.Utility.Alpha...)
	out.Simulation.Utility.Urbanicity.Red = append([]float64(nil), c.Simulation.Utility.Urbanicity.Red...)
	out.Simulation.Utility.Urbanicity.Blue = append([]float64(nil), c.Simulation.Utility.Urbanicity.Blue...)
	if c.Sweep.Grid != nil {
		out.Sweep.Grid = make(map[string][]string, len(c.Sweep.Grid))
		for k, v := range c.Sweep.Grid {
			out.Sweep.Grid[k] = append([]string(nil), v...)
		}
	}
	return &out
}

// Apply sets dotted YAML keys such as "simulation.beta" to YAML scalar
// values, as used by sweep overrides.
func (c *Config) Apply(overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}
	root := map[string]any{}
	for key, raw := range overrides {
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("override %s: %w", key, err)
		}
		parts := strings.Split(key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	doc, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(doc)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	return nil
}

var (
	validOrders        = map[string]bool{"gerrymander_then_sort": true, "sort_then_gerrymander": true}
	validRules         = map[string]bool{"congressional": true, "legislature": true, "fixed": true}
	validControls      = map[string]bool{"model": true, "Republicans": true, "Democrats": true, "Fair": true}
	validInterventions = map[string]bool{"none": true, "competitive": true, "compact": true}
	validModes         = map[string]bool{"multiplicative": true, "additive": true}
	validDrivers       = map[string]bool{"sqlite": true, "postgres": true}
	validQueues        = map[string]bool{"memory": true, "redis": true}
	validFormats       = map[string]bool{"text": true, "json": true}
	validLevels        = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks ranges and enum values.
func (c *Config) Validate() error {
	s := c.Simulation
	switch {
	case s.Tolerance < 0:
		return fmt.Errorf("tolerance must be non-negative, got %v", s.Tolerance)
	case s.Beta < 0:
		return fmt.Errorf("beta must be non-negative, got %v", s.Beta)
	case s.Epsilon <= 0 || s.Epsilon >= 1:
		return fmt.Errorf("epsilon must be in (0,1), got %v", s.Epsilon)
	case s.Sigma < 0:
		return fmt.Errorf("sigma must be non-negative, got %v", s.Sigma)
	case s.EnsembleSize < 0:
		return fmt.Errorf("ensemble_size must be non-negative, got %d", s.EnsembleSize)
	case s.NMovingOptions < 0:
		return fmt.Errorf("n_moving_options must be non-negative, got %d", s.NMovingOptions)
	case s.MovingCooldown < 0:
		return fmt.Errorf("moving_cooldown must be non-negative, got %d", s.MovingCooldown)
	case s.DistanceDecay < 0 || s.DistanceDecay > 1:
		return fmt.Errorf("distance_decay must be in [0,1], got %v", s.DistanceDecay)
	case s.CapacityMul <= 0:
		return fmt.Errorf("capacity_mul must be positive, got %v", s.CapacityMul)
	case s.MaxRounds < 1:
		return fmt.Errorf("max_rounds must be at least 1, got %d", s.MaxRounds)
	case s.NPop <= 0:
		return fmt.Errorf("npop must be positive, got %d", s.NPop)
	case s.InterventionWeight < 0 || s.InterventionWeight > 1:
		return fmt.Errorf("intervention_weight must be in [0,1], got %v", s.InterventionWeight)
	case s.CompetitiveMargin < 0:
		return fmt.Errorf("competitive_margin must be non-negative, got %v", s.CompetitiveMargin)
	case s.RedistrictAttempts < 1:
		return fmt.Errorf("redistrict_attempts must be at least 1, got %d", s.RedistrictAttempts)
	case s.RedistrictTimeout < 0:
		return fmt.Errorf("redistrict_timeout must be non-negative, got %v", s.RedistrictTimeout)
	case s.Election == "":
		return fmt.Errorf("election must be set")
	}

	enums := []struct {
		name, value string
		valid       map[string]bool
	}{
		{"order", s.Order, validOrders},
		{"control_rule", s.ControlRule, validRules},
		{"initial_control", s.InitialControl, validControls},
		{"intervention", s.Intervention, validInterventions},
		{"utility.mode", s.Utility.Mode, validModes},
		{"storage.driver", c.Storage.Driver, validDrivers},
		{"sweep.queue", c.Sweep.Queue, validQueues},
		{"logging.format", c.Logging.Format, validFormats},
		{"logging.level", c.Logging.Level, validLevels},
	}
	for _, e := range enums {
		if !e.valid[e.value] {
			return fmt.Errorf("invalid %s: %q", e.name, e.value)
		}
	}

	u := s.Utility
	if len(u.Alpha) != 4 {
		return fmt.Errorf("utility.alpha must have 4 weights, got %d", len(u.Alpha))
	}
	if len(u.Urbanicity.Red) != 4 || len(u.Urbanicity.Blue) != 4 {
		return fmt.Errorf("utility.urbanicity must list 4 values per party")
	}
	if s.ControlRule == "fixed" && s.InitialControl == "model" {
		return fmt.Errorf("control_rule fixed needs an explicit initial_control")
	}
	if c.Sweep.Workers < 1 || c.Sweep.MaxAttempts < 1 || c.Sweep.Repeats < 1 {
		return fmt.Errorf("sweep workers, max_attempts and repeats must be at least 1")
	}
	return nil
}

func applyEnvOverrides(c *Config) error {
	str := map[string]*string{
		"GERRYSORT_LOG_LEVEL":       &c.Logging.Level,
		"GERRYSORT_LOG_FORMAT":      &c.Logging.Format,
		"GERRYSORT_ORDER":           &c.Simulation.Order,
		"GERRYSORT_CONTROL_RULE":    &c.Simulation.ControlRule,
		"GERRYSORT_INITIAL_CONTROL": &c.Simulation.InitialControl,
		"GERRYSORT_ELECTION":        &c.Simulation.Election,
		"GERRYSORT_PRECINCTS":       &c.Dataset.Precincts,
		"GERRYSORT_COUNTIES":        &c.Dataset.Counties,
		"GERRYSORT_STORAGE_DRIVER":  &c.Storage.Driver,
		"GERRYSORT_STORAGE_DSN":     &c.Storage.DSN,
		"GERRYSORT_REDIS_ADDR":      &c.Sweep.RedisAddr,
		"GERRYSORT_QUEUE":           &c.Sweep.Queue,
		"GERRYSORT_API_ADDR":        &c.API.Addr,
		"GERRYSORT_ADMIN_KEY":       &c.API.AdminKey,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"GERRYSORT_TOLERANCE": &c.Simulation.Tolerance,
		"GERRYSORT_BETA":      &c.Simulation.Beta,
		"GERRYSORT_EPSILON":   &c.Simulation.Epsilon,
		"GERRYSORT_SIGMA":     &c.Simulation.Sigma,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"GERRYSORT_MAX_ROUNDS":    &c.Simulation.MaxRounds,
		"GERRYSORT_NPOP":          &c.Simulation.NPop,
		"GERRYSORT_ENSEMBLE_SIZE": &c.Simulation.EnsembleSize,
		"GERRYSORT_WORKERS":       &c.Sweep.Workers,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("GERRYSORT_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GERRYSORT_SEED: %w", err)
		}
		c.Simulation.Seed = n
	}
	return nil
}
