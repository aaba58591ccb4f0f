package flight

import (
	"testing"
)

func TestContextInputs(t *testing.T) {
	inputs, err := MarshalInputs(map[string]any{
		"name":  "my-bucket",
		"count": 3,
	})
	if err != nil {
		t.Fatalf("marshal inputs failed: %v", err)
	}
	fc := NewContext("f-1", inputs, nil)

	name, err := Input[string](fc, "name")
	if err != nil || name != "my-bucket" {
		t.Fatalf("got %q, %v", name, err)
	}
	count, err := Input[int](fc, "count")
	if err != nil || count != 3 {
		t.Fatalf("got %d, %v", count, err)
	}
	if _, err := Input[string](fc, "missing"); err == nil {
		t.Fatal("expected error for missing input")
	}
	if _, err := Input[int](fc, "name"); err == nil {
		t.Fatal("expected error for type mismatch")
	}
}

func TestContextWorkingRoundTrip(t *testing.T) {
	fc := NewContext("f-1", nil, nil)

	type payload struct {
		Bucket string `json:"bucket"`
		Done   bool   `json:"done"`
	}

	if _, found, err := Working[payload](fc, "state"); err != nil || found {
		t.Fatalf("expected absent key, got found=%v err=%v", found, err)
	}

	if err := SetWorking(fc, "state", payload{Bucket: "b", Done: true}); err != nil {
		t.Fatalf("set working failed: %v", err)
	}
	got, found, err := Working[payload](fc, "state")
	if err != nil || !found {
		t.Fatalf("get working failed: found=%v err=%v", found, err)
	}
	if got.Bucket != "b" || !got.Done {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestContextWorkingSurvivesSnapshot(t *testing.T) {
	fc := NewContext("f-1", nil, nil)
	if err := SetWorking(fc, "key", "value"); err != nil {
		t.Fatalf("set working failed: %v", err)
	}

	snapshot, err := fc.workingSnapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	working, err := DecodeParamMap(snapshot)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// A context rebuilt from the snapshot sees the same data, which is what
	// resuming after a crash relies on.
	resumed := NewContext("f-1", nil, working)
	got, found, err := Working[string](resumed, "key")
	if err != nil || !found || got != "value" {
		t.Fatalf("resumed context lost working data: %q found=%v err=%v", got, found, err)
	}
}
