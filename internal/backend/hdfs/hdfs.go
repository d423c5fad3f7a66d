package hdfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/colinmarc/hdfs/v2"
	"github.com/colinmarc/hdfs/v2/hadoopconf"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
	"github.com/restic/snaprepo/internal/privileged"
)

// HDFS stores files in a Hadoop distributed filesystem below a base path.
type HDFS struct {
	client    *hdfs.Client
	namenodes []string
	cfg       Config

	// zero means server defaults for both
	replication int
	blockSize   int64
}

// ensure statically that *HDFS implements backend.Backend.
var _ backend.Backend = &HDFS{}

const (
	dirMode = 0755

	defaultReplication = 3
	defaultBlockSize   = 128 * 1024 * 1024
)

// how long Close waits for the pipeline to finish replicating the last block
const maxReplicationWait = 30 * time.Second

func NewFactory() location.Factory {
	return location.NewBackendFactory("hdfs", ParseConfig, location.NoPassword, Open)
}

// clientOptions builds the client options from the Hadoop configuration
// found in the environment, overlaid with cfg.Conf and the namenodes and
// user given explicitly.
func clientOptions(ctx context.Context, cfg Config) (hdfs.ClientOptions, hadoopconf.HadoopConf, error) {
	conf := hadoopconf.HadoopConf{}
	if !cfg.IgnoreEnvConf {
		envConf, err := hadoopconf.LoadFromEnvironment()
		if err != nil {
			return hdfs.ClientOptions{}, nil, errors.Wrap(err, "load Hadoop configuration")
		}
		for k, v := range envConf {
			conf[k] = v
		}
	}
	for k, v := range cfg.Conf {
		conf[k] = v
	}

	opts := hdfs.ClientOptionsFromConf(conf)
	if len(cfg.Namenodes) > 0 {
		opts.Addresses = cfg.Namenodes
	}
	if len(opts.Addresses) == 0 {
		return opts, nil, errors.NewConfigError("uri", "hdfs://"+cfg.Path,
			errors.New("no namenode given and none found in the Hadoop configuration"))
	}
	if cfg.UseDatanodeHostname {
		opts.UseDatanodeHostname = true
	}
	if opts.KerberosServicePrincipleName != "" {
		return opts, nil, errors.NewConfigError("conf.hadoop.security.authentication", "kerberos",
			errors.New("kerberos authentication is not supported"))
	}

	opts.User = remoteUser(ctx, cfg)
	return opts, conf, nil
}

// fileParameters returns replication and block size for new files. Values
// from options win over dfs.replication and dfs.blocksize, zero values
// leave the choice to the namenode.
func fileParameters(cfg Config, conf hadoopconf.HadoopConf) (int, int64, error) {
	if cfg.Replication == 0 && cfg.BlockSize == 0 {
		return 0, 0, nil
	}

	replication := defaultReplication
	if v, ok := conf["dfs.replication"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errors.NewConfigError("conf.dfs.replication", v, err)
		}
		replication = n
	}
	if cfg.Replication > 0 {
		replication = cfg.Replication
	}

	var blockSize int64 = defaultBlockSize
	if v, ok := conf["dfs.blocksize"]; ok {
		size, err := options.ParseSize(v)
		if err != nil {
			return 0, 0, errors.NewConfigError("conf.dfs.blocksize", v, err)
		}
		blockSize = int64(size)
	}
	if cfg.BlockSize > 0 {
		blockSize = int64(cfg.BlockSize)
	}

	return replication, blockSize, nil
}

// remoteUser returns the identity used for the connection. The privileged
// scope wins over the URI, then HADOOP_USER_NAME and the local user follow.
func remoteUser(ctx context.Context, cfg Config) string {
	if name := privileged.UserFrom(ctx); name != "" {
		return name
	}
	if cfg.User != "" {
		return cfg.User
	}
	if name := os.Getenv("HADOOP_USER_NAME"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// Open connects to the namenode and creates the base directory.
func Open(ctx context.Context, cfg Config) (*HDFS, error) {
	debug.Log("open, config %#v", cfg)

	opts, conf, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	replication, blockSize, err := fileParameters(cfg, conf)
	if err != nil {
		return nil, err
	}

	client, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "hdfs.NewClient")
	}

	be := &HDFS{
		client:      client,
		namenodes:   opts.Addresses,
		cfg:         cfg,
		replication: replication,
		blockSize:   blockSize,
	}

	if err := client.MkdirAll(cfg.Path, dirMode); err != nil {
		_ = client.Close()
		return nil, errors.WithStack(err)
	}

	return be, nil
}

func (be *HDFS) Location() string {
	return "hdfs://" + be.namenodes[0] + be.cfg.Path
}

func (be *HDFS) Connections() uint {
	return be.cfg.Connections
}

func (be *HDFS) filename(p string) string {
	return path.Join(be.cfg.Path, p)
}

func (be *HDFS) IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (be *HDFS) createFile(name string) (*hdfs.FileWriter, error) {
	if be.replication == 0 && be.blockSize == 0 {
		return be.client.Create(name)
	}
	return be.client.CreateFile(name, be.replication, be.blockSize, 0644)
}

// Create writes the file at p to a temporary file next to it, which is
// renamed to p when the writer is closed.
func (be *HDFS) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := be.filename(p)
	debug.Log("Create %v", name)

	if err := checkNotExist(be.client, name); err != nil {
		return nil, err
	}

	tmpname := backend.TempName(name)
	f, err := be.createFile(tmpname)
	if errors.Is(err, fs.ErrNotExist) {
		if mkdirErr := be.client.MkdirAll(path.Dir(name), dirMode); mkdirErr != nil {
			debug.Log("error creating dir %v: %v", path.Dir(name), mkdirErr)
		} else {
			f, err = be.createFile(tmpname)
		}
	}
	if err != nil {
		return nil, err
	}

	return &fileWriter{ns: be.client, f: f, tmpname: tmpname, name: name}, nil
}

// namespace holds the namenode operations used by fileWriter.
type namespace interface {
	Stat(name string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

// checkNotExist returns an fs.ErrExist error if name is present. The
// namenode replaces the target of a rename, so exclusive creation depends
// on this check.
func checkNotExist(ns namespace, name string) error {
	_, err := ns.Stat(name)
	switch {
	case err == nil:
		return &fs.PathError{Op: "create", Path: name, Err: fs.ErrExist}
	case errors.Is(err, fs.ErrNotExist):
		return nil
	}
	return err
}

// streamError attaches op and the file name to an error from a datanode
// stream. The client returns pipeline failures as plain errors.
func streamError(op, name string, err error) error {
	var pathErr *fs.PathError
	if err == nil || err == io.EOF || errors.As(err, &pathErr) {
		return err
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

type fileWriter struct {
	ns      namespace
	f       io.WriteCloser
	tmpname string
	name    string
	closed  bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	return n, streamError("write", w.name, err)
}

// Close waits until the last block is replicated, then renames the file to
// its final name.
func (w *fileWriter) Close() error {
	if !w.closed {
		if err := w.closeFile(); err != nil {
			return streamError("close", w.name, err)
		}
		w.closed = true
	}

	if err := checkNotExist(w.ns, w.name); err != nil {
		return err
	}
	return w.ns.Rename(w.tmpname, w.name)
}

// closeFile waits while the namenode reports the last block as still being
// replicated. That is part of completing the file, failures are not retried.
func (w *fileWriter) closeFile() error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxReplicationWait

	return backoff.Retry(func() error {
		err := w.f.Close()
		if err != nil && !hdfs.IsErrReplicating(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// Abort removes the temporary file.
func (w *fileWriter) Abort() error {
	if !w.closed {
		_ = w.f.Close()
		w.closed = true
	}

	err := w.ns.Remove(w.tmpname)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type fileReader struct {
	f    io.ReadCloser
	name string
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	return n, streamError("read", r.name, err)
}

func (r *fileReader) Close() error {
	return streamError("close", r.name, r.f.Close())
}

func (be *HDFS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := be.filename(p)
	f, err := be.client.Open(name)
	if err != nil {
		return nil, err
	}
	return &fileReader{f: f, name: name}, nil
}

func (be *HDFS) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return backend.FileInfo{}, err
	}

	fi, err := be.client.Stat(be.filename(p))
	if err != nil {
		return backend.FileInfo{}, err
	}

	return backend.FileInfo{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

func (be *HDFS) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	entries, err := be.client.ReadDir(be.filename(dir))
	if be.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, fi := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(backend.FileInfo{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()})
		if err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (be *HDFS) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return be.client.Remove(be.filename(p))
}

func (be *HDFS) RemoveAll(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := be.client.RemoveAll(be.filename(dir))
	if be.IsNotExist(err) {
		return nil
	}
	return err
}

func (be *HDFS) Close() error {
	debug.Log("Close")
	return be.client.Close()
}
