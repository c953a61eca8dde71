package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// ErrStopped is returned by Submit once Shutdown started.
var ErrStopped = errors.New("dispatcher stopped")

// Executor runs scans.
type Executor interface {
	QueueScan(ctx context.Context, id uint) (*models.Scan, error)
	ExecuteScan(ctx context.Context, id uint) (*models.Scan, error)
}

// Dispatcher executes queued scans on a fixed pool of workers.
type Dispatcher struct {
	exec       Executor
	workers    int
	retryDelay time.Duration // wait before retrying a scan denied admission

	jobs chan uint
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// runCtx is handed to every execution and cancelled on a forced shutdown.
	runCtx context.Context
	cancel context.CancelFunc
}

// NewDispatcher returns a *Dispatcher with workers workers and room for
// backlog scans waiting for one.
func NewDispatcher(exec Executor, workers, backlog int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		exec:       exec,
		workers:    workers,
		retryDelay: 5 * time.Second,
		jobs:       make(chan uint, backlog),
		stop:       make(chan struct{}),
		runCtx:     ctx,
		cancel:     cancel,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	logrus.Infof("Scan dispatcher started with %d workers", d.workers)
}

// Submit queues a pending scan and hands it to a worker. It blocks while
// the backlog is full.
func (d *Dispatcher) Submit(ctx context.Context, id uint) (*models.Scan, error) {
	select {
	case <-d.stop:
		return nil, ErrStopped
	default:
	}

	scan, err := d.exec.QueueScan(ctx, id)
	if err != nil {
		return nil, err
	}
	return scan, d.Resume(ctx, id)
}

// Resume hands an already queued scan to a worker. It blocks while the
// backlog is full. A scan that cannot be handed over stays queued.
func (d *Dispatcher) Resume(ctx context.Context, id uint) error {
	select {
	case d.jobs <- id:
		logrus.WithField("scan_id", id).Debug("Scan handed to dispatcher")
		return nil
	case <-d.stop:
		return fmt.Errorf("scan %d left queued: %w", id, ErrStopped)
	case <-ctx.Done():
		return fmt.Errorf("scan %d left queued: %w", id, ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case id := <-d.jobs:
			d.run(id)
		}
	}
}

// run executes a scan, retrying while admission is denied.
func (d *Dispatcher) run(id uint) {
	log := logrus.WithField("scan_id", id)

	for {
		_, err := d.exec.ExecuteScan(d.runCtx, id)
		if err == nil {
			return
		}
		if !errors.Is(err, models.ErrAdmissionDenied) {
			log.Errorf("Background scan failed: %v", err)
			return
		}

		log.Debugf("Scan waiting for a free slot: %v", err)
		select {
		case <-time.After(d.retryDelay):
		case <-d.stop:
			log.Warn("Dispatcher stopped, scan left queued")
			return
		}
	}
}

// Shutdown stops accepting scans and waits for the running ones. When ctx
// expires first, the running scans are cancelled and awaited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		logrus.Warn("Shutdown deadline reached, cancelling running scans")
		d.cancel()
		<-done
		return ctx.Err()
	}
}
