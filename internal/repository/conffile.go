package repository

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
)

// hadoopConf is the layout of Hadoop configuration files such as
// core-site.xml.
type hadoopConf struct {
	XMLName    xml.Name `xml:"configuration"`
	Properties []struct {
		Name  string `xml:"name"`
		Value string `xml:"value"`
	} `xml:"property"`
}

func loadHadoopXML(filename string) (map[string]string, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var conf hadoopConf
	if err := xml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}

	props := make(map[string]string, len(conf.Properties))
	for _, p := range conf.Properties {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("property without name")
		}
		props[name] = strings.TrimSpace(p.Value)
	}
	return props, nil
}

// loadYAML reads a yaml file, nested maps are flattened with ".".
func loadYAML(filename string) (map[string]string, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
		return nil, err
	}

	props := make(map[string]string)
	for key, value := range k.All() {
		props[key] = fmt.Sprint(value)
	}
	return props, nil
}

// mergeConf loads the configuration files in order and overlays the inline
// properties. Later files win over earlier ones.
func mergeConf(files []string, inline map[string]string) (map[string]string, error) {
	conf := make(map[string]string)

	for _, filename := range files {
		var props map[string]string
		var err error

		switch strings.ToLower(filepath.Ext(filename)) {
		case ".xml":
			props, err = loadHadoopXML(filename)
		case ".yaml", ".yml":
			props, err = loadYAML(filename)
		default:
			err = errors.New("unsupported file type, expected .xml, .yaml or .yml")
		}
		if err != nil {
			return nil, errors.NewConfigError("conf", filename, err)
		}

		debug.Log("loaded %d properties from %v", len(props), filename)
		for k, v := range props {
			conf[k] = v
		}
	}

	for k, v := range inline {
		conf[k] = v
	}
	return conf, nil
}
