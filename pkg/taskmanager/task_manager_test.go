package taskmanager

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTasksRunOnWorkers(t *testing.T) {
	tm := NewTaskManager(4, 16)
	tm.Start()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		tm.AddTask(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()
	tm.Stop()

	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d tasks, want 20", got)
	}
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	tm := NewTaskManager(1, 1)
	tm.Start()

	started := make(chan struct{})
	var done atomic.Bool
	tm.AddTask(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	})

	<-started
	tm.Stop()
	if !done.Load() {
		t.Error("Stop returned before the in-flight task finished")
	}
}
