package repository

import (
	"testing"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
	rtest "github.com/restic/snaprepo/internal/test"
)

func parseConfig(t testing.TB, settings ...string) (Config, error) {
	t.Helper()
	opts, err := options.Parse(settings)
	rtest.OK(t, err)
	return ParseConfig(opts)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(t,
		"uri=hdfs://nn:8020",
		"path=user/es/repo",
		"chunk_size=64mb",
		"compress=true",
		"codec=lz4",
		"connections=3",
		"limit_upload=100",
		"user=elastic",
		"conf=core-site.xml, ,extra.yaml",
		"conf.dfs.client.read.shortcircuit=false",
		"conf.fs.defaultFS=hdfs://other:8020",
		"hdfs.replication=2",
	)
	rtest.OK(t, err)

	rtest.EqualsDiff(t, Config{
		URI:         "hdfs://nn:8020",
		Path:        "user/es/repo",
		ChunkSize:   64 << 20,
		Compress:    true,
		Codec:       "lz4",
		Connections: 3,
		User:        "elastic",
		LimitUpload: 100,
		ConfFiles:   []string{"core-site.xml", "extra.yaml"},
		Conf: map[string]string{
			"dfs.client.read.shortcircuit": "false",
			"fs.defaultFS":                 "hdfs://other:8020",
		},
		Backend: options.Options{"hdfs.replication": "2"},
	}, cfg)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(t, "uri=mem://", "path=repo")
	rtest.OK(t, err)

	rtest.Equals(t, options.Size(0), cfg.ChunkSize)
	rtest.Equals(t, false, cfg.Compress)
	rtest.Equals(t, "zstd", cfg.Codec)
	rtest.Equals(t, 0, len(cfg.ConfFiles))
	rtest.Equals(t, 0, len(cfg.Backend))
}

func TestParseConfigChunkSizeUnits(t *testing.T) {
	for s, want := range map[string]options.Size{
		"1000":  1000,
		"100k":  100 << 10,
		"100kb": 100 << 10,
		"64mb":  64 << 20,
		"1g":    1 << 30,
		"0":     0,
	} {
		cfg, err := parseConfig(t, "uri=mem://", "path=repo", "chunk_size="+s)
		rtest.OK(t, err)
		rtest.Equals(t, want, cfg.ChunkSize)
	}
}

func TestParseConfigInvalid(t *testing.T) {
	for _, settings := range [][]string{
		{"path=repo"},
		{"uri=mem://"},
		{"uri=mem://", "path=repo", "chunk_size=lots"},
		{"uri=mem://", "path=repo", "chunk_size=-1k"},
		{"uri=mem://", "path=repo", "compress=maybe"},
		{"uri=mem://", "path=repo", "codec=gzip"},
		{"uri=mem://", "path=repo", "limit_download=-5"},
		{"uri=mem://", "path=repo", "unknown=1"},
	} {
		_, err := parseConfig(t, settings...)
		rtest.ErrorKind(t, err, errors.IsConfig, "config")
	}
}
