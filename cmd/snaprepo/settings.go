package main

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
)

const envPrefix = "SNAPREPO_"

// envKey maps SNAPREPO_CHUNK_SIZE to chunk_size and SNAPREPO_CONF__DFS__REPLICATION
// to conf.dfs.replication. Variables that do not hold repository settings
// are skipped.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if key == "config" || strings.HasPrefix(key, "test_") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// loadSettings reads repository settings from the YAML file configFile (if
// set) and the environment. Nested maps in the file are flattened with ".",
// lists are joined with ",".
func loadSettings(configFile string) (options.Options, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.NewConfigError("config", configFile, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, errors.NewConfigError("environment", "", err)
	}

	var settings []string
	for key, value := range k.All() {
		settings = append(settings, key+"="+settingValue(value))
	}
	return options.Parse(settings)
}

func settingValue(v interface{}) string {
	list, ok := v.([]interface{})
	if !ok {
		return fmt.Sprint(v)
	}

	items := make([]string, 0, len(list))
	for _, item := range list {
		items = append(items, fmt.Sprint(item))
	}
	return strings.Join(items, ",")
}
