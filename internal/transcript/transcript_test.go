package transcript

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestAppendPreservesOrder(t *testing.T) {
	tr := New()

	tr.Append(Entry{Text: "hello", Speaker: Assistant})
	tr.Append(Entry{Text: "hi", Speaker: User})
	tr.Append(Entry{Text: "how can I help", Speaker: Assistant})

	entries := tr.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	expected := []string{"hello", "hi", "how can I help"}
	for i, text := range expected {
		if entries[i].Text != text {
			t.Errorf("Entry %d: expected %q, got %q", i, text, entries[i].Text)
		}
		if entries[i].At.IsZero() {
			t.Errorf("Entry %d: expected timestamp to be set", i)
		}
	}
}

func TestAppendKeepsExplicitTimestamp(t *testing.T) {
	tr := New()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tr.Append(Entry{Text: "x", Speaker: User, At: at})

	if got := tr.Snapshot()[0].At; !got.Equal(at) {
		t.Errorf("Expected %v, got %v", at, got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New()
	tr.Append(Entry{Text: "first", Speaker: Assistant})

	snapshot := tr.Snapshot()
	tr.Append(Entry{Text: "second", Speaker: User})
	snapshot[0].Text = "changed"

	if len(snapshot) != 1 {
		t.Errorf("Snapshot must not grow with later appends, got %d entries", len(snapshot))
	}
	if tr.Snapshot()[0].Text != "first" {
		t.Error("Mutating a snapshot must not change the transcript")
	}
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Append(Entry{Text: "old", Speaker: Assistant})
	before := tr.Snapshot()

	tr.Clear()

	if tr.Len() != 0 {
		t.Errorf("Expected empty transcript, got %d entries", tr.Len())
	}
	if len(before) != 1 {
		t.Error("Clear must not affect earlier snapshots")
	}
}

func TestConcurrentAppend(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Append(Entry{Text: "x", Speaker: User})
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()

	if tr.Len() != 50 {
		t.Errorf("Expected 50 entries, got %d", tr.Len())
	}
}

func TestSpeakerJSON(t *testing.T) {
	data, err := json.Marshal(Entry{Text: "hi", Speaker: Assistant})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Speaker != Assistant {
		t.Errorf("Expected assistant, got %s", decoded.Speaker)
	}

	var s Speaker
	if err := json.Unmarshal([]byte(`"robot"`), &s); err == nil {
		t.Error("Expected error for unknown speaker")
	}
}
