package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/usecase"
)

var errRunnerNotFound = errors.New("runner not found")

type fakeRunnerRepo struct {
	byID   map[int64]*domain.Runner
	byName map[string]*domain.Runner
}

func newFakeRunnerRepo(runners ...*domain.Runner) *fakeRunnerRepo {
	r := &fakeRunnerRepo{byID: make(map[int64]*domain.Runner), byName: make(map[string]*domain.Runner)}
	for _, rn := range runners {
		r.byID[rn.ID] = rn
		r.byName[rn.Name] = rn
	}
	return r
}

func (r *fakeRunnerRepo) Create(ctx context.Context, rn *domain.Runner) (*domain.Runner, error) {
	r.byID[rn.ID] = rn
	r.byName[rn.Name] = rn
	return rn, nil
}

func (r *fakeRunnerRepo) Get(ctx context.Context, id int64) (*domain.Runner, error) {
	rn, ok := r.byID[id]
	if !ok {
		return nil, errRunnerNotFound
	}
	return rn, nil
}

func (r *fakeRunnerRepo) GetByName(ctx context.Context, name string) (*domain.Runner, error) {
	rn, ok := r.byName[name]
	if !ok {
		return nil, errRunnerNotFound
	}
	return rn, nil
}

func (r *fakeRunnerRepo) Update(ctx context.Context, id int64, status domain.RunnerStatus, gpuIDs, labels string) (*domain.Runner, error) {
	rn, ok := r.byID[id]
	if !ok {
		return nil, errRunnerNotFound
	}
	rn.Status = status
	rn.GPUIDs = gpuIDs
	rn.Labels = labels
	return rn, nil
}

func (r *fakeRunnerRepo) UpdateTimestamp(ctx context.Context, id int64) error {
	if _, ok := r.byID[id]; !ok {
		return errRunnerNotFound
	}
	return nil
}

func (r *fakeRunnerRepo) List(ctx context.Context) ([]*domain.Runner, error) {
	out := make([]*domain.Runner, 0, len(r.byID))
	for _, rn := range r.byID {
		out = append(out, rn)
	}
	return out, nil
}

func (r *fakeRunnerRepo) Remove(ctx context.Context, id int64) error {
	rn, ok := r.byID[id]
	if !ok {
		return errRunnerNotFound
	}
	delete(r.byID, id)
	delete(r.byName, rn.Name)
	return nil
}

func TestRunnerUsecase_Stop_SetsStatusAndPreservesGPUsAndLabels(t *testing.T) {
	repo := newFakeRunnerRepo(&domain.Runner{ID: 1, Name: "gpu-box-1", GPUIDs: "0,1", Labels: "a100", Status: domain.RunnerRunning})
	uc := usecase.NewRunnerUsecase(repo)

	got, err := uc.Stop(context.Background(), "gpu-box-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got.Status != domain.RunnerStop {
		t.Fatalf("expected Stop status, got %s", got.Status)
	}
	if got.GPUIDs != "0,1" || got.Labels != "a100" {
		t.Fatalf("expected gpu/labels preserved, got %q %q", got.GPUIDs, got.Labels)
	}
}

func TestRunnerUsecase_Stop_UnknownRunnerErrors(t *testing.T) {
	repo := newFakeRunnerRepo()
	uc := usecase.NewRunnerUsecase(repo)

	if _, err := uc.Stop(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for unknown runner")
	}
}

func TestRunnerUsecase_List_ReturnsAllRunners(t *testing.T) {
	repo := newFakeRunnerRepo(
		&domain.Runner{ID: 1, Name: "a"},
		&domain.Runner{ID: 2, Name: "b"},
	)
	uc := usecase.NewRunnerUsecase(repo)

	got, err := uc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runners, got %d", len(got))
	}
}

func TestRunnerUsecase_GetByName_ReturnsRunner(t *testing.T) {
	repo := newFakeRunnerRepo(&domain.Runner{ID: 1, Name: "gpu-box-1"})
	uc := usecase.NewRunnerUsecase(repo)

	got, err := uc.GetByName(context.Background(), "gpu-box-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected id 1, got %d", got.ID)
	}
}
