package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/restic/snaprepo/internal/errors"
	rtest "github.com/restic/snaprepo/internal/test"
)

const coreSite = `<?xml version="1.0"?>
<configuration>
  <property>
    <name>fs.defaultFS</name>
    <value>hdfs://nn1:8020</value>
  </property>
  <property>
    <name>dfs.replication</name>
    <value> 2 </value>
    <final>true</final>
  </property>
</configuration>
`

const extraYAML = `
dfs:
  replication: 3
  client:
    use:
      datanode:
        hostname: true
connections: 4
`

func writeFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	filename := filepath.Join(dir, name)
	rtest.OK(t, os.WriteFile(filename, []byte(content), 0600))
	return filename
}

func TestMergeConf(t *testing.T) {
	dir := rtest.TempDir(t)
	xmlFile := writeFile(t, dir, "core-site.xml", coreSite)
	yamlFile := writeFile(t, dir, "extra.yaml", extraYAML)

	conf, err := mergeConf([]string{xmlFile, yamlFile}, map[string]string{
		"fs.defaultFS": "hdfs://inline:8020",
	})
	rtest.OK(t, err)

	rtest.EqualsDiff(t, map[string]string{
		"fs.defaultFS":                     "hdfs://inline:8020",
		"dfs.replication":                  "3",
		"dfs.client.use.datanode.hostname": "true",
		"connections":                      "4",
	}, conf)
}

func TestMergeConfEmpty(t *testing.T) {
	conf, err := mergeConf(nil, nil)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(conf))
}

func TestMergeConfInvalid(t *testing.T) {
	dir := rtest.TempDir(t)

	for name, files := range map[string][]string{
		"missing":     {filepath.Join(dir, "missing.xml")},
		"unsupported": {writeFile(t, dir, "conf.ini", "a=b")},
		"broken xml":  {writeFile(t, dir, "broken.xml", "<configuration><property>")},
		"no name":     {writeFile(t, dir, "noname.xml", "<configuration><property><value>x</value></property></configuration>")},
		"broken yaml": {writeFile(t, dir, "broken.yml", "a: [b")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := mergeConf(files, nil)
			rtest.ErrorKind(t, err, errors.IsConfig, "config")
		})
	}
}
