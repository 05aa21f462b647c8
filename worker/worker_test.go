package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type call struct {
	op   Op
	ip   string
	port int
}

// recordingMachine captures AddNode/OffNode invocations in arrival order.
type recordingMachine struct {
	mu      sync.Mutex
	calls   []call
	applied chan struct{}
}

func newRecordingMachine() *recordingMachine {
	return &recordingMachine{applied: make(chan struct{}, 16)}
}

func (m *recordingMachine) AddNode(ip string, port int) error {
	m.record(call{op: OpAdd, ip: ip, port: port})
	return nil
}

func (m *recordingMachine) OffNode(ip string, port int) error {
	m.record(call{op: OpRemove, ip: ip, port: port})
	return nil
}

func (m *recordingMachine) record(c call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	m.applied <- struct{}{}
}

func (m *recordingMachine) snapshot() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func waitApplied(t *testing.T, m *recordingMachine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.applied:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for task %d of %d", i+1, n)
		}
	}
}

func TestWorkerAppliesTasksInOrder(t *testing.T) {
	assert := assert.New(t)
	machine := newRecordingMachine()
	w := New(machine, 16)

	stop := make(chan struct{})
	defer close(stop)
	go w.Run(stop)

	w.Enqueue(Task{IP: "10.0.0.1", Port: 5000, Op: OpAdd})
	w.Enqueue(Task{IP: "10.0.0.2", Port: 5000, Op: OpAdd})
	w.Enqueue(Task{IP: "10.0.0.1", Port: 5000, Op: OpRemove})

	waitApplied(t, machine, 3)
	assert.Equal([]call{
		{op: OpAdd, ip: "10.0.0.1", port: 5000},
		{op: OpAdd, ip: "10.0.0.2", port: 5000},
		{op: OpRemove, ip: "10.0.0.1", port: 5000},
	}, machine.snapshot())
}

func TestWorkerStops(t *testing.T) {
	assert := assert.New(t)
	machine := newRecordingMachine()
	w := New(machine, 16)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Empty(machine.snapshot())
}

func TestBacklog(t *testing.T) {
	assert := assert.New(t)
	w := New(newRecordingMachine(), 16)
	assert.Zero(w.Backlog())
	w.Enqueue(Task{IP: "10.0.0.1", Port: 5000, Op: OpAdd})
	assert.Equal(1, w.Backlog())
}
