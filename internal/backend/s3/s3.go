package s3

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/limiter"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/privileged"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Backend stores files as objects in an S3 bucket. Directories only exist
// implicitly as common prefixes of object keys.
type Backend struct {
	client *minio.Client
	cfg    Config
}

// make sure that *Backend implements backend.Backend
var _ backend.Backend = &Backend{}

// uploads with unknown size are buffered in parts of this size
const partSize = 16 * 1024 * 1024

func init() {
	privileged.RegisterIOError(func(err error) bool {
		var e minio.ErrorResponse
		return errors.As(err, &e)
	})
}

func NewFactory() location.Factory {
	return location.NewLimitedBackendFactory("s3", ParseConfig, location.NoPassword, Open)
}

// Open connects to the bucket. The bucket is created when it is missing and
// cfg.CreateBucket is set.
func Open(ctx context.Context, cfg Config, lim limiter.Limiter) (*Backend, error) {
	debug.Log("open, config %#v", cfg)

	tr, err := minio.DefaultTransport(!cfg.UseHTTP)
	if err != nil {
		return nil, errors.Wrap(err, "DefaultTransport")
	}
	var rt http.RoundTripper = tr
	if lim != nil {
		rt = lim.Transport(rt)
	}

	// static credentials take precedence, then the usual environment
	// variables and credential files, then the instance metadata
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     cfg.KeyID,
				SecretAccessKey: cfg.Secret.Unwrap(),
			},
		},
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.FileMinioClient{},
		&credentials.IAM{
			Client: &http.Client{
				Transport: http.DefaultTransport,
			},
		},
	})

	opts := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.UseHTTP,
		Region:    cfg.Region,
		Transport: rt,
	}

	switch strings.ToLower(cfg.BucketLookup) {
	case "", "auto":
		opts.BucketLookup = minio.BucketLookupAuto
	case "dns":
		opts.BucketLookup = minio.BucketLookupDNS
	case "path":
		opts.BucketLookup = minio.BucketLookupPath
	default:
		return nil, errors.NewConfigError("s3.bucket-lookup", cfg.BucketLookup,
			fmt.Errorf(`must be "auto", "path" or "dns"`))
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "BucketExists")
	}

	if !found {
		if !cfg.CreateBucket {
			return nil, errors.Errorf("bucket %v does not exist", cfg.Bucket)
		}
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, errors.Wrap(err, "MakeBucket")
		}
	}

	return &Backend{client: client, cfg: cfg}, nil
}

func (be *Backend) Location() string {
	return "s3://" + path.Join(be.cfg.Endpoint, be.cfg.Bucket, be.cfg.Prefix)
}

func (be *Backend) Connections() uint {
	return be.cfg.Connections
}

func (be *Backend) key(p string) string {
	return backend.Join(be.cfg.Prefix, p)
}

// dirKey returns the prefix shared by all objects below dir.
func (be *Backend) dirKey(dir string) string {
	k := be.key(dir)
	if k == "" {
		return ""
	}
	return k + "/"
}

// IsNotExist returns true if the error is caused by a not existing file.
func (be *Backend) IsNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var e minio.ErrorResponse
	return errors.As(err, &e) && e.Code == "NoSuchKey"
}

func notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

// Create starts an upload to p. S3 has no exclusive create, the check for an
// existing object and the upload are two separate requests.
func (be *Backend) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	key := be.key(p)
	debug.Log("Create %v", key)

	_, err := be.client.StatObject(ctx, be.cfg.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrExist}
	}
	if !be.IsNotExist(err) {
		return nil, errors.Wrap(err, "StatObject")
	}

	opts := minio.PutObjectOptions{
		StorageClass: be.cfg.StorageClass,
		ContentType:  "application/octet-stream",
		PartSize:     partSize,
	}

	pr, pw := io.Pipe()
	w := &objectWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		info, err := be.client.PutObject(ctx, be.cfg.Bucket, key, pr, -1, opts)
		debug.Log("%v -> %v bytes, err %#v", key, info.Size, err)
		if err != nil {
			err = errors.Wrap(err, "PutObject")
		}
		_ = pr.CloseWithError(err)
		w.done <- err
	}()

	return w, nil
}

type objectWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// errAborted ends the upload stream of an aborted object. PutObject fails
// with it instead of storing the object.
var errAborted = errors.New("upload aborted")

// Close finishes the upload and waits for the server to acknowledge it.
func (w *objectWriter) Close() error {
	if w.closed {
		return errors.New("already closed")
	}
	_ = w.pw.Close()
	return w.wait()
}

// Abort fails the upload stream, so the object is never stored. An
// incomplete multipart upload is cancelled by the client.
func (w *objectWriter) Abort() error {
	if w.closed {
		return nil
	}
	_ = w.pw.CloseWithError(errAborted)
	_ = w.wait()
	return nil
}

// wait returns the result of PutObject.
func (w *objectWriter) wait() error {
	w.closed = true
	return <-w.done
}

// Open returns a reader for the object at p. The request is sent right away
// so that a missing object is reported here and not on the first read.
func (be *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key := be.key(p)
	debug.Log("Open %v", key)

	core := minio.Core{Client: be.client}
	rd, _, _, err := core.GetObject(ctx, be.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return rd, nil
}

func (be *Backend) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	key := be.key(p)
	debug.Log("Stat %v", key)

	fi, err := be.client.StatObject(ctx, be.cfg.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return backend.FileInfo{Name: path.Base(p), Size: fi.Size}, nil
	}
	if !be.IsNotExist(err) {
		return backend.FileInfo{}, errors.Wrap(err, "StatObject")
	}

	// a directory exists if at least one object is stored below it
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range be.client.ListObjects(ctx, be.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:  be.dirKey(p),
		MaxKeys: 1,
	}) {
		if obj.Err != nil {
			return backend.FileInfo{}, obj.Err
		}
		return backend.FileInfo{Name: path.Base(p), IsDir: true}, nil
	}

	return backend.FileInfo{}, notExist("stat", p)
}

func (be *Backend) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	prefix := be.dirKey(dir)
	debug.Log("List %v", prefix)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range be.client.ListObjects(ctx, be.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return obj.Err
		}

		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" {
			continue
		}

		fi := backend.FileInfo{Name: name, Size: obj.Size}
		if strings.HasSuffix(name, "/") {
			fi = backend.FileInfo{Name: strings.TrimSuffix(name, "/"), IsDir: true}
		}

		if err := fn(fi); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return ctx.Err()
}

// Remove deletes the object at p. Deleting a missing object succeeds in S3,
// so the object is checked first.
func (be *Backend) Remove(ctx context.Context, p string) error {
	key := be.key(p)
	debug.Log("Remove %v", key)

	_, err := be.client.StatObject(ctx, be.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return err
	}

	err = be.client.RemoveObject(ctx, be.cfg.Bucket, key, minio.RemoveObjectOptions{})
	return errors.Wrap(err, "RemoveObject")
}

func (be *Backend) RemoveAll(ctx context.Context, dir string) error {
	prefix := be.dirKey(dir)
	debug.Log("RemoveAll %v", prefix)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := be.client.ListObjects(ctx, be.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var listErr error
	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for obj := range objects {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case toRemove <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	for res := range be.client.RemoveObjects(ctx, be.cfg.Bucket, toRemove, minio.RemoveObjectsOptions{}) {
		if res.Err != nil {
			cancel()
			return errors.Wrapf(res.Err, "remove %v", res.ObjectName)
		}
	}

	if listErr != nil {
		return listErr
	}
	return ctx.Err()
}

// Close does nothing, the http connections are reused by the transport.
func (be *Backend) Close() error {
	return nil
}
