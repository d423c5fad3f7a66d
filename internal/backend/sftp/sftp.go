package sftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/sftp"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/privileged"
)

const (
	fileMode = 0600
	dirMode  = 0700
)

// SFTP is a backend in a directory accessed via SFTP.
type SFTP struct {
	c *sftp.Client
	p string

	cmd    *exec.Cmd
	result <-chan error

	Config
}

var _ backend.Backend = &SFTP{}

func init() {
	privileged.RegisterIOError(func(err error) bool {
		var statusErr *sftp.StatusError
		return errors.As(err, &statusErr) || errors.Is(err, sftp.ErrSSHFxConnectionLost)
	})
}

func NewFactory() location.Factory {
	return location.NewBackendFactory("sftp", ParseConfig, StripPassword, Open)
}

func startClient(program string, args ...string) (*SFTP, error) {
	debug.Log("start client %v %v", program, args)
	// Connect to a remote host and request the sftp subsystem via the 'ssh'
	// command. This assumes that passwordless login is correctly configured.
	cmd := exec.Command(program, args...)

	// prefix the errors with the program name
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StderrPipe")
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			fmt.Fprintf(os.Stderr, "subprocess %v: %v\n", program, sc.Text())
		}
	}()

	wr, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdinPipe")
	}
	rd, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdoutPipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "cmd.Start")
	}

	// wait in a different goroutine
	ch := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		debug.Log("ssh command exited, err %v", err)
		ch <- errors.Wrap(err, "ssh command exited")
	}()

	client, err := sftp.NewClientPipe(rd, wr)
	if err != nil {
		return nil, errors.Errorf("unable to start the sftp session, error: %v", err)
	}

	return &SFTP{c: client, cmd: cmd, result: ch}, nil
}

// clientError returns an error if the client has exited. Otherwise, nil is
// returned immediately.
func (r *SFTP) clientError() error {
	select {
	case err := <-r.result:
		debug.Log("client has exited with err %v", err)
		return backoff.Permanent(err)
	default:
	}

	return nil
}

// Open opens an sftp backend as described by the config by running
// "ssh" with the appropriate arguments (or cfg.Command, if set). The base
// directory is created if it is missing.
func Open(ctx context.Context, cfg Config) (*SFTP, error) {
	debug.Log("open backend with config %#v", cfg)

	cmd, args, err := buildSSHCommand(cfg)
	if err != nil {
		return nil, err
	}

	r, err := startClient(cmd, args...)
	if err != nil {
		debug.Log("unable to start program: %v", err)
		return nil, err
	}

	r.Config = cfg
	r.p = cfg.Path

	if err := r.mkdirAll(r.p, dirMode); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, ctx.Err()
}

func (r *SFTP) Connections() uint {
	return r.Config.Connections
}

// Location returns this backend's location.
func (r *SFTP) Location() string {
	host := r.Host
	if r.Port != "" {
		host += ":" + r.Port
	}
	if r.User != "" {
		host = r.User + "@" + host
	}
	return "sftp://" + host + r.p
}

// IsNotExist returns true if the error is caused by a not existing file.
func (r *SFTP) IsNotExist(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}

	var statusError *sftp.StatusError
	if errors.As(err, &statusError) {
		return statusError.FxCode() == sftp.ErrSSHFxNoSuchFile
	}

	return false
}

func (r *SFTP) filename(p string) string {
	return path.Join(r.p, p)
}

func (r *SFTP) mkdirAll(dir string, mode os.FileMode) error {
	fi, err := r.c.Lstat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}

		return errors.Errorf("mkdirAll(%s): entry exists but is not a directory", dir)
	}

	errMkdirAll := r.mkdirAll(path.Dir(dir), dirMode)
	errMkdir := r.c.Mkdir(dir)

	// test if directory was created successfully
	fi, err = r.c.Lstat(dir)
	if err != nil {
		return errors.Errorf("mkdirAll(%s): unable to create directories: %v, %v", dir, errMkdirAll, errMkdir)
	}

	if !fi.IsDir() {
		return errors.Errorf("mkdirAll(%s): entry exists but is not a directory", dir)
	}

	return r.c.Chmod(dir, mode)
}

// Create writes the file at p to a temporary file next to it. The temporary
// file is renamed to p when the writer is closed. The sftp rename request
// fails if p exists, which keeps creation exclusive.
func (r *SFTP) Create(_ context.Context, p string) (backend.FileWriter, error) {
	debug.Log("Create %v", p)
	if err := r.clientError(); err != nil {
		return nil, err
	}

	filename := r.filename(p)
	if _, err := r.c.Lstat(filename); err == nil {
		return nil, &os.PathError{Op: "create", Path: p, Err: os.ErrExist}
	}

	tmpname := backend.TempName(filename)
	f, err := r.c.OpenFile(tmpname, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
	if r.IsNotExist(err) {
		if err := r.mkdirAll(path.Dir(filename), dirMode); err != nil {
			return nil, errors.Wrap(err, "MkdirAll")
		}

		f, err = r.c.OpenFile(tmpname, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "OpenFile(%v)", p)
	}

	return &fileWriter{r: r, f: f, tmpname: tmpname, name: filename}, nil
}

type fileWriter struct {
	r       *SFTP
	f       *sftp.File
	tmpname string
	name    string
	renamed bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	return n, errors.Wrap(err, "Write")
}

func (w *fileWriter) Close() error {
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}

	if err := w.r.c.Chmod(w.tmpname, fileMode); err != nil {
		return errors.Wrap(err, "Chmod")
	}

	if err := w.r.c.Rename(w.tmpname, w.name); err != nil {
		return errors.Wrap(err, "Rename")
	}
	w.renamed = true
	return nil
}

// Abort removes the temporary file.
func (w *fileWriter) Abort() error {
	_ = w.f.Close() // Double Close is harmless.
	if w.renamed {
		return nil
	}

	err := w.r.c.Remove(w.tmpname)
	if err != nil && !w.r.IsNotExist(err) {
		return errors.Wrap(err, "Remove")
	}
	return nil
}

// Open returns a reader for the file at p.
func (r *SFTP) Open(_ context.Context, p string) (io.ReadCloser, error) {
	debug.Log("Open %v", p)
	if err := r.clientError(); err != nil {
		return nil, err
	}

	f, err := r.c.Open(r.filename(p))
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%v)", p)
	}

	return f, nil
}

// Stat returns information about a file or directory.
func (r *SFTP) Stat(_ context.Context, p string) (backend.FileInfo, error) {
	debug.Log("Stat(%v)", p)
	if err := r.clientError(); err != nil {
		return backend.FileInfo{}, err
	}

	fi, err := r.c.Lstat(r.filename(p))
	if err != nil {
		return backend.FileInfo{}, errors.Wrapf(err, "Lstat(%v)", p)
	}

	return backend.FileInfo{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

// List runs fn for each entry in dir.
func (r *SFTP) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	debug.Log("List %v", dir)
	if err := r.clientError(); err != nil {
		return err
	}

	entries, err := r.c.ReadDir(r.filename(dir))
	if r.IsNotExist(err) {
		return ctx.Err()
	}
	if err != nil {
		// sftp client does not specify dir name on error, so add it here
		return errors.Wrapf(err, "ReadDir(%v)", dir)
	}

	for _, fi := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(backend.FileInfo{
			Name:  fi.Name(),
			Size:  fi.Size(),
			IsDir: fi.IsDir(),
		})
		if err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Remove removes the file at p.
func (r *SFTP) Remove(_ context.Context, p string) error {
	debug.Log("Remove(%v)", p)
	if err := r.clientError(); err != nil {
		return err
	}

	return errors.Wrapf(r.c.Remove(r.filename(p)), "Remove(%v)", p)
}

// RemoveAll removes dir and everything below it.
func (r *SFTP) RemoveAll(ctx context.Context, dir string) error {
	debug.Log("RemoveAll(%v)", dir)
	if err := r.clientError(); err != nil {
		return err
	}

	name := r.filename(dir)
	fi, err := r.c.Lstat(name)
	if r.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "Lstat")
	}

	if !fi.IsDir() {
		return errors.Wrap(r.c.Remove(name), "Remove")
	}

	if err := r.deleteRecursive(ctx, name); err != nil {
		return err
	}

	return errors.Wrap(r.c.RemoveDirectory(name), "RemoveDirectory")
}

func (r *SFTP) deleteRecursive(ctx context.Context, name string) error {
	entries, err := r.c.ReadDir(name)
	if err != nil {
		return errors.Wrapf(err, "ReadDir(%v)", name)
	}

	for _, fi := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		itemName := path.Join(name, fi.Name())
		if fi.IsDir() {
			if err := r.deleteRecursive(ctx, itemName); err != nil {
				return err
			}

			if err := r.c.RemoveDirectory(itemName); err != nil {
				return errors.Wrap(err, "RemoveDirectory")
			}

			continue
		}

		if err := r.c.Remove(itemName); err != nil {
			return errors.Wrap(err, "Remove")
		}
	}

	return nil
}

var closeTimeout = 2 * time.Second

// Close closes the sftp connection and terminates the underlying command.
func (r *SFTP) Close() error {
	debug.Log("Close")
	if r == nil {
		return nil
	}

	err := r.c.Close()
	debug.Log("Close returned error %v", err)

	// wait for closeTimeout before killing the process
	select {
	case err := <-r.result:
		return err
	case <-time.After(closeTimeout):
	}

	if err := r.cmd.Process.Kill(); err != nil {
		return err
	}

	// get the error, but ignore it
	<-r.result
	return nil
}
