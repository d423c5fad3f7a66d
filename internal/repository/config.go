package repository

import (
	"strings"

	"github.com/restic/snaprepo/internal/backend/limiter"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
	"github.com/restic/snaprepo/internal/textutil"
)

// Config is the immutable configuration of a repository. Reconfiguring a
// repository means opening it again with a new Config.
type Config struct {
	URI         string       `option:"uri" help:"remote filesystem endpoint, e.g. hdfs://namenode:8020"`
	Path        string       `option:"path" help:"base path of the repository below the endpoint"`
	ChunkSize   options.Size `option:"chunk_size" help:"split blobs into chunk files of at most this size (default: unlimited)"`
	Compress    bool         `option:"compress" help:"compress chunk files"`
	Codec       string       `option:"codec" help:"compression codec: zstd or lz4 (default: zstd)"`
	Connections uint         `option:"connections" help:"limit concurrent remote calls (default: backend default)"`
	User        string       `option:"user" help:"remote user identity"`

	LimitUpload   int `option:"limit_upload" help:"limit uploads to a maximum rate in KiB/s (default: unlimited)"`
	LimitDownload int `option:"limit_download" help:"limit downloads to a maximum rate in KiB/s (default: unlimited)"`

	// ConfFiles lists additional configuration files given by the conf
	// setting, Conf holds the conf.<key> settings.
	ConfFiles []string
	Conf      map[string]string

	// Backend holds namespaced options for the backends, e.g. sftp.command.
	Backend options.Options
}

// NewConfig returns a config with the default values filled in.
func NewConfig() Config {
	return Config{
		Codec: "zstd",
	}
}

func init() {
	options.Register("", Config{})
	options.PreserveCase("conf")
}

// ParseConfig builds a Config from repository settings.
func ParseConfig(opts options.Options) (Config, error) {
	cfg := NewConfig()
	cfg.Conf = opts.Extract("conf")

	settings := options.Options{}
	for key, value := range opts.Without("conf") {
		switch {
		case key == "conf":
			cfg.ConfFiles = textutil.Tokenize(value)
		case strings.Contains(key, "."):
			if cfg.Backend == nil {
				cfg.Backend = options.Options{}
			}
			cfg.Backend[key] = value
		default:
			settings[key] = value
		}
	}

	if err := settings.Apply("", &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.URI == "" {
		return errors.NewConfigError("uri", "", errors.New("no uri given"))
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return errors.NewConfigError("path", cfg.Path, errors.New("no path given"))
	}
	if _, err := codecByName(cfg.Codec); err != nil {
		return errors.NewConfigError("codec", cfg.Codec, err)
	}
	if cfg.LimitUpload < 0 {
		return errors.NewConfigError("limit_upload", "", errors.Errorf("negative limit %d", cfg.LimitUpload))
	}
	if cfg.LimitDownload < 0 {
		return errors.NewConfigError("limit_download", "", errors.Errorf("negative limit %d", cfg.LimitDownload))
	}
	for key := range cfg.Conf {
		if key == "" {
			return errors.NewConfigError("conf", "", errors.New("empty property name"))
		}
	}
	return nil
}

// Limits returns the bandwidth limits for the backend.
func (cfg Config) Limits() limiter.Limits {
	return limiter.Limits{
		UploadKb:   cfg.LimitUpload,
		DownloadKb: cfg.LimitDownload,
	}
}
