package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_RestartsPermanentWorker(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sup := New(RoleWorker, log, t.TempDir()+"/daemon.pid", nil)

	var runs int32
	sup.AddWorker(&Worker{
		Name:   "flaky",
		Policy: RestartPermanent,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	// The supervisor waits one second before each restart, so 1.5s leaves
	// room for the first run and one restart.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2), "expected the permanent worker to run at least twice (one restart)")
}

func TestSupervisor_TransientWorkerStopsOnSuccess(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sup := New(RoleWorker, log, t.TempDir()+"/daemon.pid", nil)

	var runs int32
	done := make(chan struct{})
	sup.AddWorker(&Worker{
		Name:   "one-shot",
		Policy: RestartTransient,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			close(done)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go sup.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs), "transient worker should run exactly once")
}

func TestWritePIDFile_RefusesWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	pidPath := dir + "/daemon.pid"
	sup := New(RoleWorker, nil, pidPath, nil)
	require.NoError(t, sup.WritePIDFile())

	// The pidfile now names this very (alive) test process, so a second
	// Supervisor must refuse to start rather than silently take over.
	other := New(RoleWorker, nil, pidPath, nil)
	assert.Error(t, other.WritePIDFile(), "expected WritePIDFile to refuse when the recorded pid is still alive")
}
