// Package repository stores named blobs as sequences of chunk files on a
// remote filesystem.
package repository

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/limiter"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
	"github.com/restic/snaprepo/internal/privileged"
)

// Repository is a blob store on a remote filesystem. Blob operations on the
// Repository itself work on the root container. The remote filesystem
// handle is shared by all operations and released by Close.
type Repository struct {
	root *Container

	be    backend.Backend
	cfg   Config
	loc   Location
	scope privileged.Scope
	codec codec

	connections uint
}

// Open resolves the location of the repository, configures the backend and
// connects to the remote filesystem.
func Open(ctx context.Context, registry *location.Registry, cfg Config) (*Repository, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := Resolve(registry, cfg.URI, cfg.Path)
	if err != nil {
		return nil, err
	}

	if err := configureBackend(registry, loc, cfg); err != nil {
		return nil, err
	}

	var c codec
	if cfg.Compress {
		c, err = codecByName(cfg.Codec)
		if err != nil {
			return nil, errors.NewConfigError("codec", cfg.Codec, err)
		}
	}

	factory := registry.Lookup(loc.Scheme)
	lim := limiter.NewStaticLimiter(cfg.Limits())
	userScope := privileged.AsUser(cfg.User)

	debug.Log("open repository at %v", loc)
	be, err := privileged.Do(ctx, userScope, "open", func(ctx context.Context) (backend.Backend, error) {
		return factory.Open(ctx, loc.Config, lim)
	})
	if err != nil {
		return nil, err
	}

	connections := cfg.Connections
	if connections == 0 {
		connections = be.Connections()
	}
	limit, err := privileged.NewLimit(connections)
	if err != nil {
		_ = be.Close()
		return nil, errors.NewConfigError("connections", "0", err)
	}

	repo := &Repository{
		be:    be,
		cfg:   cfg,
		loc:   loc,
		scope: privileged.Chain(limit, userScope),
		codec: c,

		connections: connections,
	}
	repo.root = &Container{repo: repo}
	return repo, nil
}

// configureBackend applies the backend options for the scheme, the
// environment and the merged configuration files to the backend config.
func configureBackend(registry *location.Registry, loc Location, cfg Config) error {
	for key := range cfg.Backend {
		ns, _, _ := strings.Cut(key, ".")
		if registry.Lookup(ns) == nil {
			return errors.NewConfigError("option", key, errors.New("option is not known"))
		}
	}

	if err := cfg.Backend.Extract(loc.Scheme).Apply(loc.Scheme, loc.Config); err != nil {
		return err
	}

	if env, ok := loc.Config.(backend.ApplyEnvironmenter); ok {
		env.ApplyEnvironment("")
	}

	conf, err := mergeConf(cfg.ConfFiles, cfg.Conf)
	if err != nil {
		return err
	}
	if len(conf) == 0 {
		return nil
	}

	if ca, ok := loc.Config.(backend.ConfApplier); ok {
		return ca.ApplyConf(conf)
	}
	return options.Options(conf).Apply("conf", loc.Config)
}

// Root returns the container at the repository base path.
func (r *Repository) Root() *Container {
	return r.root
}

// Container returns the container below the base path named by segments.
func (r *Repository) Container(segments ...string) (*Container, error) {
	return r.root.Container(segments...)
}

func (r *Repository) CreateBlob(ctx context.Context, name string, length int64) (*ChunkWriter, error) {
	return r.root.CreateBlob(ctx, name, length)
}

func (r *Repository) WriteBlob(ctx context.Context, name string, rd io.Reader, length int64) (WriteStats, error) {
	return r.root.WriteBlob(ctx, name, rd, length)
}

func (r *Repository) OpenBlob(ctx context.Context, name string, chunks int) (*ChunkReader, error) {
	return r.root.OpenBlob(ctx, name, chunks)
}

func (r *Repository) ReadBlob(ctx context.Context, name string) (*ChunkReader, error) {
	return r.root.ReadBlob(ctx, name)
}

func (r *Repository) BlobExists(ctx context.Context, name string) (bool, error) {
	return r.root.BlobExists(ctx, name)
}

func (r *Repository) ListBlobs(ctx context.Context, prefix string) ([]string, error) {
	return r.root.ListBlobs(ctx, prefix)
}

func (r *Repository) DeleteBlob(ctx context.Context, name string) error {
	return r.root.DeleteBlob(ctx, name)
}

func (r *Repository) DeleteBlobs(ctx context.Context, names []string) error {
	return r.root.DeleteBlobs(ctx, names)
}

func (r *Repository) ListContainers(ctx context.Context) ([]string, error) {
	return r.root.ListContainers(ctx)
}

// Location returns the fully qualified remote path of the repository.
func (r *Repository) Location() string {
	return r.loc.String()
}

// Connections returns the number of remote calls that may run concurrently.
func (r *Repository) Connections() uint {
	return r.connections
}

// Config returns the configuration the repository was opened with.
func (r *Repository) Config() Config {
	return r.cfg
}

const verifySize = 4096

// Verify writes a random blob into a temporary container, reads it back and
// removes the container again.
func (r *Repository) Verify(ctx context.Context) error {
	var id [8]byte
	if _, err := rand.Read(id[:]); err != nil {
		return errors.WithStack(err)
	}

	c, err := r.Container("tests-" + hex.EncodeToString(id[:]))
	if err != nil {
		return err
	}

	data := make([]byte, verifySize)
	if _, err := rand.Read(data); err != nil {
		return errors.WithStack(err)
	}

	verifyErr := r.verify(ctx, c, data)
	if err := c.DeleteContainer(ctx); err != nil {
		return errors.Join(verifyErr, err)
	}
	return verifyErr
}

func (r *Repository) verify(ctx context.Context, c *Container, data []byte) error {
	stats, err := c.WriteBlob(ctx, "master.dat", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	rd, err := c.ReadBlob(ctx, "master.dat")
	if err != nil {
		return err
	}

	h := xxhash.New()
	_, err = io.Copy(h, rd)
	if cerr := rd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if h.Sum64() != stats.Digest {
		return errors.Errorf("verification of %v failed: read data does not match written data", r.Location())
	}
	debug.Log("verified %v with %d chunks", r.Location(), stats.Chunks)
	return nil
}

// Close releases the connection to the remote filesystem.
func (r *Repository) Close() error {
	return privileged.Translate("close", r.be.Close())
}
