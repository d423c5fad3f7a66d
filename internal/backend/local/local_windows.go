package local

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/afero"
)

// Can't explicitly flush directory changes on Windows.
func fsyncDir(_ afero.Fs, _ string) error { return nil }

func isSyncNotSupported(err error) bool {
	return errors.Is(err, syscall.ENOTSUP)
}

// We don't modify read-only on windows,
// since it will make us unable to delete the file,
// and this isn't common practice on this platform.
func setFileReadonly(_ afero.Fs, _ string, _ os.FileMode) error {
	return nil
}
