// Package gpu implements the per-host GPU reservation ledger: a JSON file
// recording which GPU indices are currently claimed and since when, guarded
// by an advisory file lock so that concurrent processes on the same host
// never hand out the same GPU twice.
package gpu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// Ledger tracks GPU reservations for one host. It is safe for concurrent
// use by multiple processes sharing the same lockPath/historyPath.
type Ledger struct {
	lockPath    string
	historyPath string
	assignTTL   time.Duration
}

// NewLedger returns a Ledger backed by lockPath (an flock advisory lock)
// and historyPath (a JSON map of gpu index -> unix seconds last assigned).
// assignTTL is how long a reservation survives without being released —
// the self-healing sweep drops anything older on every access.
func NewLedger(lockPath, historyPath string, assignTTL time.Duration) *Ledger {
	return &Ledger{lockPath: lockPath, historyPath: historyPath, assignTTL: assignTTL}
}

// ReserveAllFree is the n sentinel meaning "don't ask for a fixed count,
// claim whatever's currently free" — the scheduler's own calling
// convention, since it doesn't know in advance how many GPUs the next
// popped job will need.
const ReserveAllFree = -1

// TryReserve attempts to claim GPUs from candidates, preferring the lowest
// indices. With n == ReserveAllFree it claims every currently free
// candidate (possibly none) and always succeeds. With n >= 0 it claims
// exactly n and returns an empty slice if fewer than n are free; callers
// needing an exact count must retry rather than accept a partial result.
func (l *Ledger) TryReserve(candidates []int, available []int, n int) ([]int, error) {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.historyPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	fl := flock.New(l.lockPath)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire gpu lock: %w", err)
	}
	defer fl.Unlock()

	history, err := l.readHistory()
	if err != nil {
		return nil, err
	}
	l.sweep(history)

	reserved := make(map[int]struct{}, len(history))
	for idStr := range history {
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err == nil {
			reserved[id] = struct{}{}
		}
	}

	candidateSet := make(map[int]struct{}, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = struct{}{}
	}

	var free []int
	for _, a := range available {
		if len(candidateSet) > 0 {
			if _, ok := candidateSet[a]; !ok {
				continue
			}
		}
		if _, ok := reserved[a]; ok {
			continue
		}
		free = append(free, a)
	}
	sort.Ints(free)

	var chosen []int
	switch {
	case n == ReserveAllFree:
		chosen = free
	case len(free) < n:
		return nil, l.writeHistory(history)
	default:
		chosen = free[:n]
	}
	now := time.Now().Unix()
	for _, id := range chosen {
		history[fmt.Sprintf("%d", id)] = now
	}
	if err := l.writeHistory(history); err != nil {
		return nil, err
	}
	return chosen, nil
}

// Release drops the given GPU indices from the ledger, freeing them for
// the next TryReserve call.
func (l *Ledger) Release(gpuIDs []int) error {
	fl := flock.New(l.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire gpu lock: %w", err)
	}
	defer fl.Unlock()

	history, err := l.readHistory()
	if err != nil {
		return err
	}
	for _, id := range gpuIDs {
		delete(history, fmt.Sprintf("%d", id))
	}
	return l.writeHistory(history)
}

// sweep drops any reservation older than assignTTL, in place.
func (l *Ledger) sweep(history map[string]int64) {
	for id, last := range history {
		if time.Since(time.Unix(last, 0)) > l.assignTTL {
			delete(history, id)
		}
	}
}

func (l *Ledger) readHistory() (map[string]int64, error) {
	b, err := os.ReadFile(l.historyPath)
	if os.IsNotExist(err) {
		return make(map[string]int64), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gpu history: %w", err)
	}
	history := make(map[string]int64)
	if len(b) == 0 {
		return history, nil
	}
	if err := json.Unmarshal(b, &history); err != nil {
		return nil, fmt.Errorf("unmarshal gpu history: %w", err)
	}
	return history, nil
}

func (l *Ledger) writeHistory(history map[string]int64) error {
	b, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal gpu history: %w", err)
	}
	if err := os.WriteFile(l.historyPath, b, 0o644); err != nil {
		return fmt.Errorf("write gpu history: %w", err)
	}
	return nil
}
