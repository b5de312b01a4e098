package debounce

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBurstCoalescesToLastValue(t *testing.T) {
	r := newRecorder()
	d := New(50*time.Millisecond, r.record)

	// Three notifications well inside 100ms.
	d.Trigger("0x1")
	time.Sleep(10 * time.Millisecond)
	d.Trigger("0x89")
	time.Sleep(10 * time.Millisecond)
	d.Trigger("0xaa36a7")

	select {
	case <-r.fired:
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}
	// Give a stray timer a chance to misfire.
	time.Sleep(120 * time.Millisecond)

	calls := r.got()
	if len(calls) != 1 {
		t.Fatalf("fn called %d times, want 1: %v", len(calls), calls)
	}
	if calls[0] != "0xaa36a7" {
		t.Errorf("fn called with %s, want the last value 0xaa36a7", calls[0])
	}
	if d.Pending() {
		t.Error("Pending() = true after firing")
	}
}

func TestSeparatedTriggersFireSeparately(t *testing.T) {
	r := newRecorder()
	d := New(20*time.Millisecond, r.record)

	d.Trigger("a")
	<-r.fired
	d.Trigger("b")
	<-r.fired

	calls := r.got()
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}

func TestWindowRestartsOnEachTrigger(t *testing.T) {
	r := newRecorder()
	d := New(60*time.Millisecond, r.record)

	start := time.Now()
	for i := 0; i < 4; i++ {
		d.Trigger("x")
		time.Sleep(30 * time.Millisecond)
	}
	<-r.fired

	// Last trigger at ~90ms plus a 60ms window.
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("fired after %v, want the window measured from the last trigger", elapsed)
	}
}

func TestStopDropsPending(t *testing.T) {
	r := newRecorder()
	d := New(20*time.Millisecond, r.record)

	d.Trigger("x")
	if !d.Pending() {
		t.Error("Pending() = false right after Trigger")
	}
	d.Stop()
	d.Trigger("y")

	time.Sleep(80 * time.Millisecond)
	if calls := r.got(); len(calls) != 0 {
		t.Errorf("fn called after Stop: %v", calls)
	}
}
