package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReporter_BuffersWhileDisconnected(t *testing.T) {
	r := NewReporter("n1", nil)
	r.Report(Event{RunID: "run-1", Kind: "task_started"})
	r.Report(Event{RunID: "run-1", Kind: "task_completed"})

	assert.Len(t, r.buffer, 2)
}

func TestReporter_TaskOutputDroppedWhileDisconnected(t *testing.T) {
	r := NewReporter("n1", nil)
	r.Report(Event{RunID: "run-1", Kind: "task_output"})
	assert.Empty(t, r.buffer, "task_output events must not be buffered")
}

func TestReporter_BufferCapEvictsOldest(t *testing.T) {
	r := NewReporter("n1", nil)
	for i := 0; i < reporterBufferCap+10; i++ {
		r.Report(Event{RunID: "run-1", Kind: "task_started"})
	}
	assert.Len(t, r.buffer, reporterBufferCap)
}
