package nuclei

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// Registry maps scan ids to the live process executing them, so a
// cancellation request can terminate the process instead of only
// flipping the scan status.
type Registry struct {
	mu    sync.Mutex
	procs map[uint]*handle
}

type handle struct {
	cmd    Command
	killed atomic.Bool
}

// NewRegistry returns an empty *Registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[uint]*handle)}
}

func (r *Registry) register(scanID uint, cmd Command) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.procs[scanID]; ok {
		return nil, fmt.Errorf("%w: scan %d already has a live process", models.ErrExecution, scanID)
	}
	h := &handle{cmd: cmd}
	r.procs[scanID] = h
	return h, nil
}

func (r *Registry) unregister(scanID uint, h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.procs[scanID] == h {
		delete(r.procs, scanID)
	}
}

// Kill terminates the process running scanID. It reports whether a live
// process was found.
func (r *Registry) Kill(scanID uint) bool {
	r.mu.Lock()
	h, ok := r.procs[scanID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	h.killed.Store(true)
	if err := h.cmd.Kill(); err != nil {
		logrus.Errorf("failed to kill process %d of scan %d: %v", h.cmd.Pid(), scanID, err)
	}
	logrus.Infof("Killed process %d of scan %d", h.cmd.Pid(), scanID)
	return true
}

// Running returns the ids of scans with a live process, sorted.
func (r *Registry) Running() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
