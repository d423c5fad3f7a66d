//go:build !windows

package local

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/afero"
)

// fsyncDir flushes changes to the directory dir.
func fsyncDir(fsys afero.Fs, dir string) error {
	d, err := fsys.Open(dir)
	if err != nil {
		return err
	}

	err = d.Sync()
	if isSyncNotSupported(err) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EINVAL) {
		err = nil
	}

	cerr := d.Close()
	if err == nil {
		err = cerr
	}

	return err
}

func isSyncNotSupported(err error) bool {
	return errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.ENOTTY)
}

// set file to readonly
func setFileReadonly(fsys afero.Fs, f string, mode os.FileMode) error {
	return fsys.Chmod(f, mode&^0222)
}
