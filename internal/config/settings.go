package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SPEEDTESTS_RETEST=false.
const EnvPrefix = "SPEEDTESTS"

// Setting keys shared by flags, environment and defaults.
const (
	KeyRoot      = "root"
	KeyConfigDir = "config_dir"
	KeyOutputDir = "output_dir"
	KeyRetest    = "retest"
	KeyStrict    = "strict"
	KeyRuns      = "runs"
	KeyWarmup    = "warmup"
	KeyHyperfine = "hyperfine"
	KeyParallel  = "parallel"
	KeyDebug     = "debug"
	KeyLogFile   = "log_file"
)

// Settings is the run configuration handed to the orchestrator. It is built
// once at startup and not changed afterwards.
type Settings struct {
	Root      string // directory holding the implementation folders
	ConfigDir string // directory holding <folder>.json documents
	OutputDir string // benchmark record directory

	Retest    bool // clear old records and benchmark again
	Strict    bool // treat non-zero exit of build/strip/run as fatal
	Runs      int
	Warmup    int
	Hyperfine bool // time with hyperfine instead of the built-in timer
	Parallel  bool // include _parallel/ folders in the tester script

	Debug   bool
	LogFile string
}

// SetDefaults registers the default of every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRoot, "..")
	v.SetDefault(KeyConfigDir, ".")
	v.SetDefault(KeyOutputDir, "output")
	v.SetDefault(KeyRetest, true)
	v.SetDefault(KeyStrict, false)
	v.SetDefault(KeyRuns, 1)
	v.SetDefault(KeyWarmup, 0)
	v.SetDefault(KeyHyperfine, false)
	v.SetDefault(KeyParallel, false)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogFile, "")
}

// LoadSettings resolves settings from v (flags bound by the caller), the
// environment and an optional .env file in the config directory.
func LoadSettings(v *viper.Viper) (Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	envFile := filepath.Join(v.GetString(KeyConfigDir), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Settings{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	s := Settings{
		Root:      v.GetString(KeyRoot),
		ConfigDir: v.GetString(KeyConfigDir),
		OutputDir: v.GetString(KeyOutputDir),
		Retest:    v.GetBool(KeyRetest),
		Strict:    v.GetBool(KeyStrict),
		Runs:      v.GetInt(KeyRuns),
		Warmup:    v.GetInt(KeyWarmup),
		Hyperfine: v.GetBool(KeyHyperfine),
		Parallel:  v.GetBool(KeyParallel),
		Debug:     v.GetBool(KeyDebug),
		LogFile:   v.GetString(KeyLogFile),
	}

	if err := s.resolve(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// resolve validates numeric settings and makes the directories absolute, so
// commands running inside a folder still find them.
func (s *Settings) resolve() error {
	if s.Runs < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyRuns, s.Runs)
	}
	if s.Warmup < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyWarmup, s.Warmup)
	}

	for _, p := range []*string{&s.Root, &s.ConfigDir, &s.OutputDir} {
		if *p == "" {
			return errors.New("directory settings must not be empty")
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return err
		}
		*p = abs
	}
	return nil
}
