package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/restic/snaprepo/internal/errors"
)

// Save stores data in a new file at p.
func Save(ctx context.Context, be Backend, p string, data []byte) error {
	wr, err := be.Create(ctx, p)
	if err != nil {
		return err
	}

	if _, err := io.Copy(wr, bytes.NewReader(data)); err != nil {
		_ = wr.Abort()
		return err
	}

	if err := wr.Close(); err != nil {
		_ = wr.Abort()
		return err
	}
	return nil
}

// TempName returns the name of a temporary file next to p. The final name is
// part of the temporary name, so a leftover temporary file can be traced back
// to the file it was written for.
func TempName(p string) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return p + "-tmp-" + hex.EncodeToString(buf[:])
}

// LoadAll reads the content of the file at p.
func LoadAll(ctx context.Context, be Backend, p string) ([]byte, error) {
	rd, err := be.Open(ctx, p)
	if err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(rd)
	cerr := rd.Close()
	if err != nil {
		return nil, err
	}
	return buf, errors.WithStack(cerr)
}

// ListNames returns the names of all entries directly below dir.
func ListNames(ctx context.Context, be Backend, dir string) ([]string, error) {
	var names []string
	err := be.List(ctx, dir, func(fi FileInfo) error {
		names = append(names, fi.Name)
		return nil
	})
	return names, err
}
