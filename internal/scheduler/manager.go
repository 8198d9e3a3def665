package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/executor"
	"github.com/distgpu/runner/internal/gitrepo"
	"github.com/distgpu/runner/internal/gpu"
	"github.com/distgpu/runner/internal/metrics"
	"github.com/distgpu/runner/internal/repository"
	"github.com/distgpu/runner/internal/shutdown"
	"github.com/distgpu/runner/internal/worker"
)

const finishedHistoryLimit = 30

// PageHost is the subset of the paged TUI a Manager needs: one page per
// active job plus a top page showing overall status. Passing a nil host
// disables rendering entirely (useful for headless / test runs).
type PageHost interface {
	AddPage(id string, render func() string)
	RemovePage(id string)
	SetTopPage(render func() string)
	Render()
}

// Manager is the control loop that claims jobs, starts workers for them,
// and reconciles their outcome — the Go equivalent of runner.py's
// ExecutorManager.
type Manager struct {
	jobRepo    repository.JobRepository
	runnerRepo repository.RunnerRepository
	registry   *executor.Registry
	cloner     *gitrepo.Cloner
	ledger     *gpu.Ledger
	logger     *slog.Logger
	guard      *shutdown.Guard
	host       PageHost

	name        string
	maxParallel int
	tempDirRoot string
	trashRoot   string

	mu              sync.Mutex
	labels          []string
	availableGPUIDs []int
	runner          *domain.Runner
	active          map[int64]*activeJob
	finished        []*domain.Job
	finishFlg       bool

	finishCh chan int64
}

type activeJob struct {
	w      *worker.Worker
	pageID string
}

type Config struct {
	Name            string
	Labels          []string
	AvailableGPUIDs []int
	MaxParallel     int
	TempDirRoot     string
	TrashRoot       string
}

func NewManager(
	jobRepo repository.JobRepository,
	runnerRepo repository.RunnerRepository,
	registry *executor.Registry,
	cloner *gitrepo.Cloner,
	ledger *gpu.Ledger,
	logger *slog.Logger,
	guard *shutdown.Guard,
	host PageHost,
	cfg Config,
) *Manager {
	return &Manager{
		jobRepo:         jobRepo,
		runnerRepo:      runnerRepo,
		registry:        registry,
		cloner:          cloner,
		ledger:          ledger,
		logger:          logger.With("component", "manager"),
		guard:           guard,
		host:            host,
		name:            cfg.Name,
		maxParallel:     cfg.MaxParallel,
		tempDirRoot:     cfg.TempDirRoot,
		trashRoot:       cfg.TrashRoot,
		labels:          cfg.Labels,
		availableGPUIDs: cfg.AvailableGPUIDs,
		active:          make(map[int64]*activeJob),
		finishCh:        make(chan int64, 256),
	}
}

// Run registers this host as a Runner, loops until a shutdown is requested
// and every active job has drained, then deregisters.
func (m *Manager) Run(ctx context.Context) error {
	gpuCSV := joinInts(m.availableGPUIDs)
	created, err := m.runnerRepo.Create(ctx, &domain.Runner{
		Name:   m.name,
		GPUIDs: gpuCSV,
		Labels: strings.Join(m.labels, ","),
		Status: domain.RunnerRunning,
	})
	if err != nil {
		return fmt.Errorf("register runner: %w", err)
	}
	m.mu.Lock()
	m.runner = created
	m.mu.Unlock()

	if m.host != nil {
		m.host.SetTopPage(m.renderTop)
	}

	for {
		m.mu.Lock()
		done := m.finishFlg && len(m.active) == 0
		m.mu.Unlock()
		if done {
			break
		}

		sleep := m.tick(ctx)
		m.sleepRendering(sleep)
	}

	if err := m.runnerRepo.Remove(ctx, m.runner.ID); err != nil {
		m.logger.Warn("deregister runner failed", "error", err)
	}
	metrics.RunnerShutdownsTotal.Inc()
	return nil
}

func (m *Manager) sleepRendering(d time.Duration) {
	if m.host == nil {
		time.Sleep(d)
		return
	}
	ticks := int(d / (10 * time.Millisecond))
	for i := 0; i < ticks; i++ {
		m.host.Render()
		time.Sleep(10 * time.Millisecond)
	}
}

// tick runs exactly one reap->probe->heartbeat->gate->admit step and
// returns how long the caller should idle before the next tick. The
// shutdown guard is only consulted at the very start of this function,
// never mid-step, so a Ctrl-C can't tear a tick in half.
func (m *Manager) tick(ctx context.Context) time.Duration {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	if m.guard != nil && m.guard.Requested() {
		m.mu.Lock()
		m.finishFlg = true
		m.mu.Unlock()
	}

	m.handleFinishedJobs(ctx)
	m.checkActiveJobStatus(ctx)
	m.syncRunnerStatus(ctx)

	m.mu.Lock()
	stopping := m.finishFlg || m.runnerStatus() == domain.RunnerStop
	m.mu.Unlock()

	if stopping {
		m.killActive()
		return 10 * time.Second
	}

	job, err := m.getNextJob(ctx)
	if err != nil {
		m.logger.Error("get next job", "error", err)
		return 10 * time.Second
	}
	if job != nil {
		m.startJob(ctx, job)
		return 1 * time.Second
	}
	return 10 * time.Second
}

func (m *Manager) runnerStatus() domain.RunnerStatus {
	if m.runner == nil {
		return domain.RunnerRunning
	}
	return m.runner.Status
}

func (m *Manager) killActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, aj := range m.active {
		aj.w.Kill(true)
	}
}

// getNextJob reserves every GPU this host considers free, pops the
// highest-priority fitting job off the queue, hands back the GPUs the job
// doesn't need, and stamps the popped job with the reserved IDs and this
// host's name.
func (m *Manager) getNextJob(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	atCapacity := len(m.active) >= m.maxParallel
	notRunning := m.runnerStatus() != domain.RunnerRunning
	candidates := append([]int(nil), m.availableGPUIDs...)
	labels := make(map[string]struct{}, len(m.labels))
	for _, l := range m.labels {
		if l != "" {
			labels[l] = struct{}{}
		}
	}
	m.mu.Unlock()

	if atCapacity || notRunning {
		return nil, nil
	}

	available, err := gpu.DetectAvailable(ctx, 0.001)
	if err != nil {
		// No GPUs visible (CPU-only host, or nvidia-smi missing): proceed
		// with zero, mirroring GPUtil.getGPUs() == 0 in the original.
		available = nil
	}
	reserved, err := m.ledger.TryReserve(candidates, available, gpu.ReserveAllFree)
	if err != nil {
		metrics.GPUReservationFailuresTotal.Inc()
		return nil, fmt.Errorf("reserve available gpus: %w", err)
	}
	metrics.GPUsReserved.Set(float64(len(reserved)))

	var job *domain.Job
	var required []int
	defer func() {
		unused := subtractInts(reserved, required)
		if len(unused) > 0 {
			if err := m.ledger.Release(unused); err != nil {
				m.logger.Warn("release unused gpus", "error", err)
			}
		}
	}()

	job, err = m.jobRepo.PopNextJob(ctx, len(reserved), labels)
	if err != nil {
		return nil, fmt.Errorf("pop next job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	sort.Ints(reserved)
	if job.NumGPU <= len(reserved) {
		required = reserved[:job.NumGPU]
	} else {
		required = reserved
	}
	gpuCSV := joinInts(required)
	host := m.name
	updated, err := m.jobRepo.Update(ctx, job.ID, domain.JobUpdate{GPUIDs: &gpuCSV, Host: &host})
	if err != nil {
		return nil, fmt.Errorf("stamp job with gpus: %w", err)
	}
	metrics.JobPickupLatency.Observe(time.Since(updated.CreatedAt).Seconds())
	return updated, nil
}

func (m *Manager) startJob(ctx context.Context, job *domain.Job) {
	w := worker.New(m.jobRepo, m.registry, m.cloner, m.logger, job, m.tempDirRoot, m.trashRoot, m.finishCh)
	pageID := strconv.FormatInt(job.ID, 10)

	m.mu.Lock()
	m.active[job.ID] = &activeJob{w: w, pageID: pageID}
	m.mu.Unlock()

	metrics.JobsInFlight.Inc()
	if m.host != nil {
		m.host.AddPage(pageID, w.Render)
	}
	go w.Run(ctx)
}

func (m *Manager) handleFinishedJobs(ctx context.Context) {
	for i := 0; i < 100; i++ {
		var id int64
		select {
		case id = <-m.finishCh:
		default:
			return
		}

		m.mu.Lock()
		aj, ok := m.active[id]
		if ok {
			delete(m.active, id)
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		metrics.JobsInFlight.Dec()
		job := aj.w.Job()
		if len(job.GPUIDList()) > 0 {
			if err := m.ledger.Release(job.GPUIDList()); err != nil {
				m.logger.Warn("release job gpus", "error", err)
			}
		}
		if m.host != nil {
			m.host.RemovePage(aj.pageID)
		}

		current, err := m.jobRepo.Get(ctx, id)
		if err != nil {
			m.logger.Error("load finished job", "job_id", id, "error", err)
			continue
		}

		var upd domain.JobUpdate
		result := aj.w.Result()
		if result == nil {
			status := domain.StatusFinish
			empty := ""
			upd = domain.JobUpdate{Status: &status, Message: &empty}
			metrics.JobsCompletedTotal.WithLabelValues("finish").Inc()
		} else if aj.w.ShouldResume() {
			status := domain.StatusQueue
			upd = domain.JobUpdate{Status: &status, Message: result}
			metrics.JobsCompletedTotal.WithLabelValues("requeued").Inc()
		} else {
			status := domain.StatusFail
			upd = domain.JobUpdate{Status: &status, Message: result}
			metrics.JobsCompletedTotal.WithLabelValues("fail").Inc()
		}

		updated, err := m.jobRepo.Update(ctx, current.ID, upd)
		if err != nil {
			m.logger.Error("update finished job", "job_id", id, "error", err)
			continue
		}

		m.mu.Lock()
		m.finished = append(m.finished, updated)
		if len(m.finished) > finishedHistoryLimit {
			m.finished = m.finished[len(m.finished)-finishedHistoryLimit:]
		}
		m.mu.Unlock()
	}
}

// checkActiveJobStatus refreshes each active job's updated_at heartbeat and
// kills any whose status was flipped away from Running by an external actor
// (e.g. the admin API's cancel endpoint).
func (m *Manager) checkActiveJobStatus(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*activeJob, 0, len(m.active))
	for _, aj := range m.active {
		snapshot = append(snapshot, aj)
	}
	m.mu.Unlock()

	for _, aj := range snapshot {
		job := aj.w.Job()
		updated, err := m.jobRepo.UpdateTimestamp(ctx, job.ID)
		if err != nil {
			m.logger.Warn("heartbeat job", "job_id", job.ID, "error", err)
			continue
		}
		aj.w.SetJob(updated)
		if updated.Status != domain.StatusRunning {
			aj.w.Kill(false)
		}
	}
}

func (m *Manager) syncRunnerStatus(ctx context.Context) {
	m.mu.Lock()
	runnerID := m.runner.ID
	m.mu.Unlock()

	if err := m.runnerRepo.UpdateTimestamp(ctx, runnerID); err != nil {
		m.logger.Warn("heartbeat runner", "error", err)
	}
	fresh, err := m.runnerRepo.Get(ctx, runnerID)
	if err != nil {
		m.logger.Warn("reload runner", "error", err)
		return
	}

	m.mu.Lock()
	m.runner = fresh
	if fresh.GPUIDs != "" {
		m.availableGPUIDs = fresh.GPUIDList()
	} else {
		m.availableGPUIDs = nil
	}
	m.labels = strings.Split(fresh.Labels, ",")
	m.mu.Unlock()
}

func (m *Manager) renderTop() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var status string
	if m.finishFlg {
		status = fmt.Sprintf("shutdown requested. killing %d active jobs, please wait.", len(m.active))
	} else {
		status = fmt.Sprintf("%d jobs are running.", len(m.active))
	}

	var running, doneLines []string
	for _, aj := range m.active {
		j := aj.w.Job()
		running = append(running, fmt.Sprintf("* %s %s", j.Status, j.Command))
	}
	for _, j := range m.finished {
		doneLines = append(doneLines, fmt.Sprintf("* %s %s", j.Status, j.Command))
	}

	return fmt.Sprintf(`
:::GPU Job Runner:::

%s
labels: %s
GPUs: %s

[Running Jobs]

%s

[Finished Jobs]

%s
`, status, strings.Join(m.labels, ", "), joinInts(m.availableGPUIDs),
		strings.Join(running, "\n\n"), strings.Join(doneLines, "\n\n"))
}

func joinInts(ids []int) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(id)
	}
	return strings.Join(strs, ",")
}

func subtractInts(all, used []int) []int {
	usedSet := make(map[int]struct{}, len(used))
	for _, u := range used {
		usedSet[u] = struct{}{}
	}
	var out []int
	for _, a := range all {
		if _, ok := usedSet[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}
