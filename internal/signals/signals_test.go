package signals

import (
	"testing"
	"time"
)

func TestStopping_SetIdempotent(t *testing.T) {
	s := NewStopping()
	if s.IsSet() {
		t.Fatal("new stopping signal should be unset")
	}
	s.Set()
	s.Set()
	if !s.IsSet() {
		t.Fatal("stopping signal should be set")
	}
	select {
	case <-s.Chan():
	default:
		t.Error("channel should be closed after Set")
	}
}

func TestFlag_LevelTriggered(t *testing.T) {
	f := NewFlag()
	f.Set()
	f.Set()
	if !f.IsSet() {
		t.Fatal("flag should be set")
	}
	// Every waiter observes a set flag, repeatedly.
	for i := 0; i < 3; i++ {
		select {
		case <-f.Chan():
		case <-time.After(time.Second):
			t.Fatal("flag channel should be closed")
		}
	}
}

func TestEdge_FireAndConsume(t *testing.T) {
	e := NewEdge()
	e.Fire()

	fired, stopped := e.Wait(time.Second, nil)
	if !fired || stopped {
		t.Fatalf("expected fired wait, got fired=%v stopped=%v", fired, stopped)
	}

	// The mark was consumed: a second wait times out.
	fired, stopped = e.Wait(10*time.Millisecond, nil)
	if fired || stopped {
		t.Fatalf("expected timeout, got fired=%v stopped=%v", fired, stopped)
	}
}

func TestEdge_FiresCoalesce(t *testing.T) {
	e := NewEdge()
	e.Fire()
	e.Fire()
	e.Fire()

	if fired, _ := e.Wait(time.Second, nil); !fired {
		t.Fatal("expected fired wait")
	}
	if fired, _ := e.Wait(10*time.Millisecond, nil); fired {
		t.Fatal("fires should coalesce into a single wakeup")
	}
}

func TestEdge_Clear(t *testing.T) {
	e := NewEdge()
	e.Fire()
	e.Clear()
	if fired, _ := e.Wait(10*time.Millisecond, nil); fired {
		t.Fatal("cleared edge should not wake a waiter")
	}
}

func TestEdge_StoppingInterrupts(t *testing.T) {
	e := NewEdge()
	stop := NewStopping()

	done := make(chan struct{})
	var fired, stopped bool
	go func() {
		defer close(done)
		fired, stopped = e.Wait(5*time.Second, stop)
	}()

	stop.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not observe stopping signal")
	}
	if fired || !stopped {
		t.Fatalf("expected stopped wait, got fired=%v stopped=%v", fired, stopped)
	}
}
