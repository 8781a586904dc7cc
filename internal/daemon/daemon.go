// Package daemon implements the supervisor-tree-as-explicit-manage-loop
// pattern for Sykli's long-running process: a Supervisor schedules cache GC
// and starts the child workers its caller registers (mesh discovery, the
// reporter, the coordinator) each under its own restart
// policy and collects their exits over a channel, the way an OTP
// supervisor would, expressed as plain goroutines (spec §9 Design Notes).
package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"sykli/internal/core"
)

// RestartPolicy mirrors an OTP child spec's restart strategy.
type RestartPolicy string

const (
	RestartPermanent RestartPolicy = "permanent" // always restart on exit
	RestartTransient RestartPolicy = "transient" // restart only on non-nil error
)

// Role determines which child workers a Supervisor starts.
type Role string

const (
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
	RoleFull        Role = "full"
)

// Worker is a supervised child: Run blocks until ctx is cancelled or it
// fails.
type Worker struct {
	Name   string
	Policy RestartPolicy
	Run    func(ctx context.Context) error
}

type exitEvent struct {
	worker *Worker
	err    error
}

// Supervisor starts and restarts Workers under their RestartPolicy,
// mirroring the teacher's goroutine-per-unit concurrency idiom rather than
// introducing an external process supervisor.
type Supervisor struct {
	Role     Role
	Log      *logrus.Logger
	PIDFile  string
	Cache    core.Cache
	GCMaxAge time.Duration
	GCCron   string // e.g. "0 */30 * * * *" (every 30 minutes, seconds-precision)

	mu      sync.Mutex
	workers []*Worker
	cron    *cron.Cron
}

// New builds a Supervisor for role with no workers registered; cache GC is
// not a Worker but a cron job that Run schedules on GCCron. Workers (mesh
// discovery, reporter, coordinator) are appended by the caller via
// AddWorker.
func New(role Role, log *logrus.Logger, pidFile string, cache core.Cache) *Supervisor {
	if log == nil {
		log = logrus.New()
	}
	return &Supervisor{
		Role:     role,
		Log:      log,
		PIDFile:  pidFile,
		Cache:    cache,
		GCMaxAge: 7 * 24 * time.Hour,
		GCCron:   "0 */30 * * * *",
	}
}

// AddWorker registers an additional supervised worker. Must be called
// before Run.
func (s *Supervisor) AddWorker(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, w)
}

// WritePIDFile writes the current process PID to s.PIDFile, failing if one
// already exists and names a still-running process.
func (s *Supervisor) WritePIDFile() error {
	if existing, err := os.ReadFile(s.PIDFile); err == nil {
		if pid, perr := strconv.Atoi(string(existing)); perr == nil && processAlive(pid) {
			return fmt.Errorf("daemon: already running (pid %d, pidfile %s)", pid, s.PIDFile)
		}
	}
	return os.WriteFile(s.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile is safe to call even if the file was never written.
func (s *Supervisor) RemovePIDFile() error {
	err := os.Remove(s.PIDFile)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadPID reads the PID recorded at pidFile, for "daemon stop"/"daemon
// status".
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Run starts the cron-scheduled GC sweep plus every registered Worker, then
// blocks until ctx is cancelled, applying each worker's RestartPolicy to
// unexpected exits. The GC sweep is the only cron job, whatever s.Role is;
// no verification sweep is scheduled. A restarted worker is re-run one
// second after it exits.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	workers := append([]*Worker(nil), s.workers...)
	s.mu.Unlock()

	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(s.GCCron, func() { s.runGC() }); err != nil {
		return fmt.Errorf("daemon: scheduling gc: %w", err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	exits := make(chan exitEvent, len(workers))
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go s.manage(ctx, w, exits, &wg)
	}

	go func() {
		wg.Wait()
		close(exits)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case ev, ok := <-exits:
			if !ok {
				return nil
			}
			if ev.err != nil {
				s.Log.WithError(ev.err).WithField("worker", ev.worker.Name).Error("worker exited")
			}
		}
	}
}

// manage implements one worker's restart loop: run it, and on exit decide
// whether to restart based on its RestartPolicy, until ctx is cancelled.
func (s *Supervisor) manage(ctx context.Context, w *Worker, exits chan<- exitEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		err := w.Run(ctx)
		select {
		case exits <- exitEvent{worker: w, err: err}:
		default:
		}
		if ctx.Err() != nil {
			return
		}
		switch w.Policy {
		case RestartPermanent:
			// restart unconditionally
		case RestartTransient:
			if err == nil {
				return
			}
		default:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Supervisor) runGC() {
	if s.Cache == nil {
		return
	}
	cutoff := time.Now().Add(-s.GCMaxAge)
	if err := s.Cache.CleanOlderThan(cutoff); err != nil {
		s.Log.WithError(err).Error("cache gc failed")
		return
	}
	s.Log.WithField("cutoff", cutoff).Debug("cache gc swept")
}
