package repository

import (
	"context"
	"testing"

	"github.com/restic/snaprepo/internal/backend/local"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/backend/mem"
	"github.com/restic/snaprepo/internal/options"
)

// TestRegistry returns a registry with the mem and file backends. All mem
// repositories opened through the registry share their data.
func TestRegistry() *location.Registry {
	registry := location.NewRegistry()
	registry.Register(mem.NewFactory())
	registry.Register(local.NewFactory())
	return registry
}

// TestRepository opens a repository at mem:///repo. Additional settings
// are given as key=value pairs.
func TestRepository(t testing.TB, settings ...string) *Repository {
	t.Helper()
	return TestRepositoryWithRegistry(t, TestRegistry(), append([]string{"uri=mem://", "path=repo"}, settings...)...)
}

// TestRepositoryWithRegistry opens a repository with the given settings,
// which must include uri and path. The repository is closed at the end of
// the test.
func TestRepositoryWithRegistry(t testing.TB, registry *location.Registry, settings ...string) *Repository {
	t.Helper()

	opts, err := options.Parse(settings)
	if err != nil {
		t.Fatalf("TestRepository(): parse settings failed: %v", err)
	}

	cfg, err := ParseConfig(opts)
	if err != nil {
		t.Fatalf("TestRepository(): invalid config: %v", err)
	}

	repo, err := Open(context.TODO(), registry, cfg)
	if err != nil {
		t.Fatalf("TestRepository(): open failed: %v", err)
	}

	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("TestRepository(): close failed: %v", err)
		}
	})
	return repo
}
