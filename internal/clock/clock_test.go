package clock

import (
	"testing"
	"time"
)

func TestFake_AfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f := NewFake(start)

	got := <-f.After(5 * time.Second)
	if !got.Equal(start.Add(5 * time.Second)) {
		t.Errorf("After fired with %v", got)
	}
	<-f.After(0)
	f.Advance(time.Minute)

	if want := start.Add(65 * time.Second); !f.Now().Equal(want) {
		t.Errorf("Now = %v, want %v", f.Now(), want)
	}
	sleeps := f.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 5*time.Second || sleeps[1] != 0 {
		t.Errorf("unexpected sleeps %v", sleeps)
	}
}

func TestReal(t *testing.T) {
	c := Real()
	if c.Now().IsZero() {
		t.Error("Real().Now() returned zero time")
	}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Error("Real().After did not fire")
	}
}
