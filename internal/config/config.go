// Package config loads dropcam settings from a YAML file and DROPCAM_*
// environment variables.
//
// Precedence, highest first: environment, file, defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "DROPCAM_"

// Config is the full dropcam configuration.
type Config struct {
	VideosDir   string `yaml:"videos_dir" env:"VIDEOS_DIR"`
	StillsDir   string `yaml:"stills_dir" env:"STILLS_DIR"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	EntriesFile string `yaml:"entries_file" env:"ENTRIES_FILE"`
	Template    string `yaml:"template" env:"TEMPLATE"` // ledger template CSV
	BaseCSV     string `yaml:"base_csv" env:"BASE_CSV"`
	RulesDir    string `yaml:"rules_dir" env:"RULES_DIR"`
	Database    string `yaml:"database" env:"DATABASE"`

	Match     Match     `yaml:"match" envPrefix:"MATCH_"`
	Rename    Rename    `yaml:"rename" envPrefix:"RENAME_"`
	Waypoints Waypoints `yaml:"waypoints" envPrefix:"WAYPOINTS_"`
	Media     Media     `yaml:"media" envPrefix:"MEDIA_"`
	Log       Log       `yaml:"log" envPrefix:"LOG_"`
}

// Match configures video to waypoint matching.
type Match struct {
	Tolerance       time.Duration `yaml:"tolerance" env:"TOLERANCE"`
	ClockOffset     time.Duration `yaml:"clock_offset" env:"CLOCK_OFFSET"`
	Timezone        string        `yaml:"timezone" env:"TIMEZONE"`
	InferSequential bool          `yaml:"infer_sequential" env:"INFER_SEQUENTIAL"`
}

// Rename configures target file names.
type Rename struct {
	Template string `yaml:"template" env:"TEMPLATE"`
}

// Waypoints configures the waypoint CSV columns.
type Waypoints struct {
	IDColumn    string   `yaml:"id_column" env:"ID_COLUMN"`
	TimeColumn  string   `yaml:"time_column" env:"TIME_COLUMN"`
	DateColumn  string   `yaml:"date_column" env:"DATE_COLUMN"`
	ClockColumn string   `yaml:"clock_column" env:"CLOCK_COLUMN"`
	Layouts     []string `yaml:"layouts" env:"LAYOUTS" envSeparator:"|"`
}

// Media configures the external ffmpeg tools.
type Media struct {
	FFmpeg       string `yaml:"ffmpeg" env:"FFMPEG"`
	FFprobe      string `yaml:"ffprobe" env:"FFPROBE"`
	JPEGQuality  int    `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	ProbeWorkers int    `yaml:"probe_workers" env:"PROBE_WORKERS"`
}

// Log configures the process logger.
type Log struct {
	Level     string `yaml:"level" env:"LEVEL"`
	Format    string `yaml:"format" env:"FORMAT"`
	AddSource bool   `yaml:"add_source" env:"ADD_SOURCE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		VideosDir:   "drop_videos",
		StillsDir:   "drop_stills",
		DataDir:     "data",
		EntriesFile: "data_entries.csv",
		Database:    "dropcam.db",
		Match: Match{
			Tolerance:       2 * time.Minute,
			Timezone:        "Local",
			InferSequential: true,
		},
		Rename: Rename{
			Template: "ID{POINT_ID}_{DATE}_{TIME}{EXT}",
		},
		Waypoints: Waypoints{
			IDColumn:   "POINT_ID",
			TimeColumn: "DATE_TIME",
			Layouts: []string{
				"02/01/2006 15:04:05",
				"02/01/2006 15:04",
				"2006-01-02 15:04:05",
				time.RFC3339,
			},
		},
		Media: Media{
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
			JPEGQuality:  2,
			ProbeWorkers: 4,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path (if non-empty) over the defaults,
// then applies environment overrides from the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil map means the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

var (
	validLevels  = []string{"trace", "debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Match.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("match.tolerance must not be negative, got %s", c.Match.Tolerance))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("match.timezone: %w", err))
	}
	if strings.TrimSpace(c.Rename.Template) == "" {
		errs = append(errs, errors.New("rename.template must not be empty"))
	}
	if c.Media.ProbeWorkers < 1 {
		errs = append(errs, fmt.Errorf("media.probe_workers must be at least 1, got %d", c.Media.ProbeWorkers))
	}
	if c.Media.JPEGQuality < 2 || c.Media.JPEGQuality > 31 {
		errs = append(errs, fmt.Errorf("media.jpeg_quality must be in [2, 31], got %d", c.Media.JPEGQuality))
	}
	if !oneOf(c.Log.Level, validLevels) {
		errs = append(errs, fmt.Errorf("log.level must be one of %s, got %q", strings.Join(validLevels, "|"), c.Log.Level))
	}
	if !oneOf(c.Log.Format, validFormats) {
		errs = append(errs, fmt.Errorf("log.format must be one of %s, got %q", strings.Join(validFormats, "|"), c.Log.Format))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Location resolves match.timezone. "Local" and "" mean the system zone.
func (c Config) Location() (*time.Location, error) {
	switch c.Match.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Match.Timezone)
}

// EntriesPath is the ledger CSV path.
func (c Config) EntriesPath() string {
	if filepath.IsAbs(c.EntriesFile) {
		return c.EntriesFile
	}
	return filepath.Join(c.DataDir, c.EntriesFile)
}
