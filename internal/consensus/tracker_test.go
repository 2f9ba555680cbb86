package consensus

import (
	"testing"
	"time"
)

func TestNewWorkerTracker(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	if tr == nil {
		t.Fatal("NewWorkerTracker returned nil")
	}
	if tr.HeartbeatInterval() != 60*time.Second {
		t.Errorf("interval = %v, want 60s", tr.HeartbeatInterval())
	}
}

func TestWorkerTracker_RecordHeartbeat(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordHeartbeat("pow-0")

	s := tr.GetStats("pow-0")
	if s == nil {
		t.Fatal("GetStats returned nil after RecordHeartbeat")
	}
	if s.LastHeartbeat.IsZero() {
		t.Error("LastHeartbeat should be set")
	}
	if !tr.IsOnline("pow-0") {
		t.Error("worker should be online after heartbeat")
	}
}

func TestWorkerTracker_RecordBlock(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordBlock("pow-0")
	tr.RecordBlock("pow-0")
	tr.RecordBlock("pow-0")

	s := tr.GetStats("pow-0")
	if s == nil {
		t.Fatal("GetStats returned nil")
	}
	if s.BlockCount != 3 {
		t.Errorf("BlockCount = %d, want 3", s.BlockCount)
	}
	if s.LastBlock.IsZero() {
		t.Error("LastBlock should be set")
	}
}

func TestWorkerTracker_RecordMiss(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordMiss("pos-0")
	tr.RecordMiss("pos-0")

	s := tr.GetStats("pos-0")
	if s == nil {
		t.Fatal("GetStats returned nil")
	}
	if s.MissedCount != 2 {
		t.Errorf("MissedCount = %d, want 2", s.MissedCount)
	}
}

func TestWorkerTracker_IsOnline_NoHeartbeat(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	if tr.IsOnline("poc-0") {
		t.Error("should not be online without any heartbeat")
	}
	tr.RecordBlock("poc-0")
	if tr.IsOnline("poc-0") {
		t.Error("should not be online without heartbeat (only block)")
	}
}

func TestWorkerTracker_GetStats_NotTracked(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	if s := tr.GetStats("unknown"); s != nil {
		t.Error("GetStats should return nil for untracked worker")
	}
}

func TestWorkerTracker_GetAllStats(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordHeartbeat("a")
	tr.RecordBlock("b")

	all := tr.GetAllStats()
	if len(all) != 2 {
		t.Errorf("GetAllStats count = %d, want 2", len(all))
	}
}

func TestWorkerTracker_GetStats_ReturnsCopy(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordBlock("a")

	s1 := tr.GetStats("a")
	s1.BlockCount = 999

	s2 := tr.GetStats("a")
	if s2.BlockCount == 999 {
		t.Error("GetStats should return a copy, not a reference")
	}
}

func TestWorkerTracker_MultipleWorkers(t *testing.T) {
	tr := NewWorkerTracker(60 * time.Second)
	tr.RecordBlock("a")
	tr.RecordBlock("a")
	tr.RecordBlock("b")
	tr.RecordMiss("b")

	s1 := tr.GetStats("a")
	s2 := tr.GetStats("b")

	if s1.BlockCount != 2 {
		t.Errorf("a BlockCount = %d, want 2", s1.BlockCount)
	}
	if s2.BlockCount != 1 {
		t.Errorf("b BlockCount = %d, want 1", s2.BlockCount)
	}
	if s2.MissedCount != 1 {
		t.Errorf("b MissedCount = %d, want 1", s2.MissedCount)
	}
}
