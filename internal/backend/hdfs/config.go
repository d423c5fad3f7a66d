package hdfs

import (
	"net/url"
	"path"
	"strings"

	"github.com/colinmarc/hdfs/v2/hadoopconf"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
)

// Config contains the information needed to reach an HDFS cluster.
type Config struct {
	// Namenodes taken from the URI. When empty, the namenodes are read from
	// the Hadoop configuration.
	Namenodes []string
	User      string
	Path      string

	Replication         int          `option:"replication" help:"set the replication factor for chunk files (default: server default)"`
	BlockSize           options.Size `option:"block-size" help:"set the block size for chunk files (default: server default)"`
	UseDatanodeHostname bool         `option:"use-datanode-hostname" help:"connect to datanodes by hostname instead of IP"`
	IgnoreEnvConf       bool         `option:"ignore-env-conf" help:"do not load the configuration from HADOOP_CONF_DIR"`

	Connections uint `option:"connections" help:"set a limit for the number of concurrent connections (default: 5)"`

	// Conf holds Hadoop properties, they win over the files found through
	// HADOOP_CONF_DIR.
	Conf hadoopconf.HadoopConf
}

// NewConfig returns a new config with default options applied.
func NewConfig() Config {
	return Config{
		Connections: 5,
	}
}

func init() {
	options.Register("hdfs", Config{})
}

// ParseConfig parses the string s and extracts the hdfs config. The format
// is hdfs://[user@]namenode[:port][,namenode[:port]]/path, the namenode may
// be omitted (hdfs:///path) to use fs.defaultFS from the Hadoop
// configuration.
func ParseConfig(s string) (*Config, error) {
	if !strings.HasPrefix(s, "hdfs://") {
		return nil, errors.New(`invalid format, does not start with "hdfs://"`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.Wrap(err, "url.Parse")
	}

	cfg := NewConfig()
	if u.Host != "" {
		for _, nn := range strings.Split(u.Host, ",") {
			if nn == "" {
				return nil, errors.Errorf("invalid hdfs location %q, empty namenode", s)
			}
			cfg.Namenodes = append(cfg.Namenodes, nn)
		}
	}
	if u.User != nil {
		cfg.User = u.User.Username()
	}

	cfg.Path = path.Clean("/" + u.Path)
	return &cfg, nil
}

// ApplyConf merges Hadoop properties into the configuration, later calls win.
func (cfg *Config) ApplyConf(conf map[string]string) error {
	if cfg.Conf == nil {
		cfg.Conf = make(hadoopconf.HadoopConf, len(conf))
	}
	for k, v := range conf {
		if k == "" {
			return errors.NewConfigError("conf", v, errors.New("empty property name"))
		}
		cfg.Conf[k] = v
	}
	return nil
}
