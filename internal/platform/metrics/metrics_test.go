package metrics

import "testing"

func TestNewRegistry_Gathers(t *testing.T) {
	mfs, err := NewRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected runtime metrics")
	}
}
