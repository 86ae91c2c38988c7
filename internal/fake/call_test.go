package fake

import (
	"slices"
	"testing"
)

func TestCallRecorder(t *testing.T) {
	var r CallRecorder
	r.record("SyncCurrent", "a")
	r.record("CreateEntity")
	r.record("SyncCurrent", "b")

	if got := r.Count("SyncCurrent"); got != 2 {
		t.Fatalf("Count(SyncCurrent) = %d, want 2", got)
	}
	if got := r.Calls("SyncCurrent")[1].Args[0]; got != "b" {
		t.Errorf("second SyncCurrent arg = %v, want b", got)
	}
	want := []string{"SyncCurrent", "CreateEntity", "SyncCurrent"}
	if got := r.Methods(); !slices.Equal(got, want) {
		t.Errorf("Methods() = %v, want %v", got, want)
	}

	r.Reset()
	if len(r.Calls("")) != 0 {
		t.Errorf("expected no calls after Reset")
	}
}
