package executor_test

import (
	"context"
	"io"
	"testing"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/executor"
)

type noopBackend struct{}

func (noopBackend) Prepare(context.Context, *domain.Job, string, io.Writer, io.Writer) error { return nil }
func (noopBackend) Execute(context.Context, *domain.Job, string, io.Writer, io.Writer) error { return nil }
func (noopBackend) Cleanup(context.Context, *domain.Job, string) error                       { return nil }
func (noopBackend) Kill() error                                                              { return nil }

func TestRegistry_FallsBackToDefaultName(t *testing.T) {
	r := executor.NewRegistry()
	r.Register(executor.DefaultBackendName, func() executor.Backend { return noopBackend{} })

	b, err := r.New("")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if b == nil {
		t.Fatal("expected default backend, got nil")
	}
}

func TestRegistry_UnknownNameErrors(t *testing.T) {
	r := executor.NewRegistry()
	if _, err := r.New("nope"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
