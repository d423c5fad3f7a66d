package s3

import (
	"testing"

	rtest "github.com/restic/snaprepo/internal/test"
)

var configTests = []struct {
	s   string
	cfg Config
}{
	{"s3://eu-central-1/bucketname", Config{
		Endpoint:    "eu-central-1",
		Bucket:      "bucketname",
		Connections: 5,
	}},
	{"s3://eu-central-1/bucketname/", Config{
		Endpoint:    "eu-central-1",
		Bucket:      "bucketname",
		Connections: 5,
	}},
	{"s3://eu-central-1/bucketname/prefix/directory", Config{
		Endpoint:    "eu-central-1",
		Bucket:      "bucketname",
		Prefix:      "prefix/directory",
		Connections: 5,
	}},
	{"s3://eu-central-1/bucketname/prefix/directory/", Config{
		Endpoint:    "eu-central-1",
		Bucket:      "bucketname",
		Prefix:      "prefix/directory",
		Connections: 5,
	}},
	{"s3://hostname.foo:9000/bucketname/prefix//directory", Config{
		Endpoint:    "hostname.foo:9000",
		Bucket:      "bucketname",
		Prefix:      "prefix/directory",
		Connections: 5,
	}},
}

func TestParseConfig(t *testing.T) {
	for _, test := range configTests {
		t.Run(test.s, func(t *testing.T) {
			cfg, err := ParseConfig(test.s)
			rtest.OK(t, err)
			rtest.Equals(t, test.cfg, *cfg)
		})
	}
}

func TestParseConfigInvalid(t *testing.T) {
	for _, s := range []string{
		"s3:eu-central-1/bucketname",
		"s3://",
		"s3://eu-central-1",
		"s3://eu-central-1/",
		"hdfs://eu-central-1/bucketname",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseConfig(s)
			rtest.Assert(t, err != nil, "expected error for %q", s)
		})
	}
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("TEST_AWS_ACCESS_KEY_ID", "key")
	t.Setenv("TEST_AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("TEST_AWS_DEFAULT_REGION", "us-east-2")

	cfg := NewConfig()
	cfg.Region = "eu-west-1"
	cfg.ApplyEnvironment("TEST_")

	rtest.Equals(t, "key", cfg.KeyID)
	rtest.Equals(t, "secret", cfg.Secret.Unwrap())
	rtest.Equals(t, "**redacted**", cfg.Secret.String())
	rtest.Equals(t, "eu-west-1", cfg.Region)
}
