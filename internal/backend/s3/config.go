package s3

import (
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
)

// Config contains all configuration necessary to connect to an s3 compatible
// server.
type Config struct {
	Endpoint     string
	UseHTTP      bool `option:"use-http" help:"connect to the endpoint without TLS"`
	KeyID        string
	Secret       options.SecretString
	Bucket       string
	Prefix       string
	Region       string `option:"region" help:"set region"`
	BucketLookup string `option:"bucket-lookup" help:"bucket lookup style: 'auto', 'dns', or 'path'"`
	StorageClass string `option:"storage-class" help:"set S3 storage class (STANDARD, STANDARD_IA, ONEZONE_IA, INTELLIGENT_TIERING or REDUCED_REDUNDANCY)"`
	CreateBucket bool   `option:"create-bucket" help:"create the bucket if it does not exist"`

	Connections uint `option:"connections" help:"set a limit for the number of concurrent connections (default: 5)"`
}

// NewConfig returns a new Config with the default values filled in.
func NewConfig() Config {
	return Config{
		Connections: 5,
	}
}

func init() {
	options.Register("s3", Config{})
}

// ParseConfig parses the string s and extracts the s3 config. The supported
// format is s3://host/bucketname/prefix, the host can also be a valid s3
// region name.
func ParseConfig(s string) (*Config, error) {
	if !strings.HasPrefix(s, "s3://") {
		return nil, errors.New(`invalid format, does not start with "s3://"`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.Wrap(err, "url.Parse")
	}

	if u.Host == "" {
		return nil, errors.New("s3: invalid format, host/region not found")
	}

	p := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if p[0] == "" {
		return nil, errors.New("s3: invalid format, bucket name not found")
	}

	var prefix string
	if len(p) > 1 && strings.Trim(p[1], "/") != "" {
		prefix = strings.Trim(path.Clean(p[1]), "/")
	}

	cfg := NewConfig()
	cfg.Endpoint = u.Host
	cfg.Bucket = p[0]
	cfg.Prefix = prefix
	return &cfg, nil
}

// ApplyEnvironment saves values from the environment to the config.
func (cfg *Config) ApplyEnvironment(prefix string) {
	if cfg.KeyID == "" {
		cfg.KeyID = os.Getenv(prefix + "AWS_ACCESS_KEY_ID")
	}

	if cfg.Secret.String() == "" {
		cfg.Secret = options.NewSecretString(os.Getenv(prefix + "AWS_SECRET_ACCESS_KEY"))
	}

	if cfg.Region == "" {
		cfg.Region = os.Getenv(prefix + "AWS_DEFAULT_REGION")
	}
}
