package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DRAIN"

// Config holds application level configuration aggregated from flags,
// env/.env and config files. It is built once at startup and not modified
// afterwards.
type Config struct {
	Storage struct {
		AccessKey  string
		SecretKey  string
		Volume     string
		Datacenter string
		Endpoint   string
	}
	Drain struct {
		RemoteFolder string
		LocalDir     string
		Interval     int
	}
	Log struct {
		Level string
	}
	Status struct {
		Addr string
	}
}

// Region is the datacenter in the lowercase form the S3 client expects.
func (c Config) Region() string {
	return strings.ToLower(strings.TrimSpace(c.Storage.Datacenter))
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Drain.Interval) * time.Second
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		name, value string
	}{
		{"storage.accesskey", c.Storage.AccessKey},
		{"storage.secretkey", c.Storage.SecretKey},
		{"storage.volume", c.Storage.Volume},
		{"storage.datacenter", c.Storage.Datacenter},
		{"storage.endpoint", c.Storage.Endpoint},
		{"drain.localdir", c.Drain.LocalDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if c.Drain.Interval <= 0 {
		errs = append(errs, fmt.Errorf("drain.interval must be positive, got %d", c.Drain.Interval))
	}
	return errors.Join(errs...)
}

// Load reads configuration from command-line flags, environment variables,
// an optional .env file and optional config files in the working directory.
func Load(args []string) (Config, error) {
	return load(".", args)
}

func load(dir string, args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.volume", "")
	v.SetDefault("storage.datacenter", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("drain.remotefolder", "")
	v.SetDefault("drain.localdir", "./downloads")
	v.SetDefault("drain.interval", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("status.addr", "")

	// .env entries sit just above the defaults and never touch the process
	// environment.
	for key, value := range loadDotEnv(filepath.Join(dir, ".env")) {
		v.SetDefault(key, value)
	}

	for key, flag := range flagBindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetConfigName("config")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

var flagBindings = map[string]string{
	"storage.accesskey":  "access-key",
	"storage.secretkey":  "secret-key",
	"storage.volume":     "volume",
	"storage.datacenter": "datacenter",
	"storage.endpoint":   "endpoint",
	"drain.remotefolder": "remote-folder",
	"drain.localdir":     "local-dir",
	"drain.interval":     "interval",
	"log.level":          "log-level",
	"status.addr":        "status-addr",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("drain", pflag.ContinueOnError)
	fs.String("access-key", "", "S3 access key of the network volume")
	fs.String("secret-key", "", "S3 secret key of the network volume")
	fs.String("volume", "", "network volume (bucket) id")
	fs.String("datacenter", "", "datacenter id, used as the S3 region")
	fs.String("endpoint", "", "S3 endpoint URL of the datacenter")
	fs.String("remote-folder", "", "remote folder to drain, empty for the volume root")
	fs.String("local-dir", "./downloads", "local download directory")
	fs.Int("interval", 30, "seconds between checks")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("status-addr", "", "address for the status API, disabled when empty")
	return fs
}

// loadDotEnv reads a .env file without touching the process environment and
// maps DRAIN_SECTION_KEY entries to viper keys (section.key). Other entries
// are ignored.
func loadDotEnv(path string) map[string]string {
	values := map[string]string{}

	entries, err := godotenv.Read(path)
	if err != nil {
		return values
	}

	for key, value := range entries {
		name, ok := strings.CutPrefix(key, envPrefix+"_")
		if !ok {
			continue
		}
		section, field, ok := strings.Cut(strings.ToLower(name), "_")
		if !ok || section == "" || field == "" {
			continue
		}
		values[section+"."+field] = value
	}

	return values
}
