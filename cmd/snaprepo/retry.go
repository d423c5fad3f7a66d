package main

import (
	"context"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
)

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	switch {
	case errors.IsConfig(err),
		errors.IsFatal(err),
		errors.Is(err, errors.ErrInvalidName),
		errors.Is(err, fs.ErrExist),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// retry runs op until it succeeds, returns a permanent error or
// --retry-max-time has passed. Failed attempts are reported on stderr.
func retry(ctx context.Context, gopts GlobalOptions, desc string, op func() error) error {
	if gopts.RetryMaxTime <= 0 {
		return op()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = gopts.RetryMaxTime

	retries := 0
	operation := func() error {
		err := op()
		switch {
		case err == nil:
			if retries > 0 {
				Warnf("%v operation successful after %d retries\n", desc, retries)
			}
			return nil
		case permanent(err):
			return backoff.Permanent(err)
		}
		retries++
		return err
	}

	notify := func(err error, d time.Duration) {
		debug.Log("%v failed: %v, retrying in %v", desc, err, d)
		Warnf("%v failed: %v, retrying in %v\n", desc, err, d.Round(time.Millisecond))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
}
