package privileged

import (
	"context"

	"github.com/restic/snaprepo/internal/errors"
)

// Scope establishes the restricted context a block of remote calls runs in.
// Enter returns the context for the block and a function that must be
// called once the block finished.
type Scope interface {
	Enter(ctx context.Context) (context.Context, func(), error)
}

type noScope struct{}

func (noScope) Enter(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// None is the scope without any restriction.
var None Scope = noScope{}

// Limit bounds the number of blocks running at the same time.
type Limit struct {
	ch chan struct{}
}

// NewLimit returns a scope that admits at most n concurrent blocks.
func NewLimit(n uint) (*Limit, error) {
	if n == 0 {
		return nil, errors.New("must be a positive number")
	}
	return &Limit{
		ch: make(chan struct{}, n),
	}, nil
}

// Enter blocks until a token is available or ctx is cancelled.
func (l *Limit) Enter(ctx context.Context) (context.Context, func(), error) {
	select {
	case l.ch <- struct{}{}:
		return ctx, l.release, nil
	case <-ctx.Done():
		return ctx, nil, ctx.Err()
	}
}

func (l *Limit) release() {
	<-l.ch
}

type userKey struct{}

// WithUser returns a context that carries the remote identity name.
func WithUser(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userKey{}, name)
}

// UserFrom returns the remote identity attached to ctx, or the empty string.
func UserFrom(ctx context.Context) string {
	name, _ := ctx.Value(userKey{}).(string)
	return name
}

type userScope string

func (s userScope) Enter(ctx context.Context) (context.Context, func(), error) {
	return WithUser(ctx, string(s)), func() {}, nil
}

// AsUser returns a scope that runs blocks as the remote user name. An empty
// name leaves the identity to the backend.
func AsUser(name string) Scope {
	if name == "" {
		return None
	}
	return userScope(name)
}

type chain []Scope

// Chain combines scopes. They are entered in order and released in reverse
// order.
func Chain(scopes ...Scope) Scope {
	var c chain
	for _, s := range scopes {
		if s != nil && s != None {
			c = append(c, s)
		}
	}
	switch len(c) {
	case 0:
		return None
	case 1:
		return c[0]
	}
	return c
}

func (c chain) Enter(ctx context.Context) (context.Context, func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, s := range c {
		var release func()
		var err error
		ctx, release, err = s.Enter(ctx)
		if err != nil {
			releaseAll()
			return ctx, nil, err
		}
		releases = append(releases, release)
	}

	return ctx, releaseAll, nil
}
