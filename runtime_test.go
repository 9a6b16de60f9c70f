package spider2

import (
	"testing"
)

func TestLedgerNotificationIdempotent(t *testing.T) {
	lrt := &LRT{Ix: 0, ledger: make([]uint32, 2)}
	lrt.applyNotification(NotificationMessage{SenderLrtIx: 1, JobExecIx: 4})
	if lrt.ledger[1] != 5 {
		t.Fatalf("ledger %d, want 5", lrt.ledger[1])
	}
	// stale and duplicate notifications never lower the ledger
	lrt.applyNotification(NotificationMessage{SenderLrtIx: 1, JobExecIx: 2})
	lrt.applyNotification(NotificationMessage{SenderLrtIx: 1, JobExecIx: 4})
	if lrt.ledger[1] != 5 {
		t.Fatalf("ledger moved to %d after stale notifications", lrt.ledger[1])
	}
	lrt.applyNotification(NotificationMessage{SenderLrtIx: 1, JobExecIx: 7})
	if lrt.ledger[1] != 8 {
		t.Fatalf("ledger %d after newer notification, want 8", lrt.ledger[1])
	}
}

func TestRuntimeStopDrainsWorkers(t *testing.T) {
	pf := GenerateUniformPlatform(1, 3)
	rt := CreateRuntime(pf, CreateMemoryInterface(), nil)
	rt.Start()
	// no jobs in flight: stop must return promptly
	rt.Stop()
}

func TestReadInputBuffersMerge(t *testing.T) {
	mi := CreateMemoryInterface()
	rt := &Runtime{Memory: mi}

	// two source buffers, merged into one
	bufA := mi.Allocate(1, 2, 1)
	bufA[0], bufA[1] = 'a', 'b'
	bufB := mi.Allocate(2, 2, 1)
	bufB[0], bufB[1] = 'c', 'd'

	fifos := []Fifo{
		{VirtualAddress: 9, Size: 4, Offset: 2, Count: 1, Attribute: FifoRMerge},
		{VirtualAddress: 1, Size: 2, Count: 1, Attribute: FifoRWOnly},
		{VirtualAddress: 2, Size: 2, Count: 1, Attribute: FifoRWOnly},
	}
	buffers := rt.readInputBuffers(fifos)
	if len(buffers) != 1 {
		t.Fatalf("merged read produced %d buffers, want 1", len(buffers))
	}
	got := string(buffers[0])
	if got != "abcd" {
		t.Fatalf("merged content %q, want %q", got, "abcd")
	}
}

func TestReadInputBuffersRepeat(t *testing.T) {
	mi := CreateMemoryInterface()
	rt := &Runtime{Memory: mi}

	src := mi.Allocate(1, 2, 1)
	src[0], src[1] = 'x', 'y'

	fifos := []Fifo{
		{VirtualAddress: 9, Size: 5, Count: 1, Attribute: FifoRRepeat},
		{VirtualAddress: 1, Size: 2, Count: 1, Attribute: FifoRWOnly},
	}
	buffers := rt.readInputBuffers(fifos)
	if len(buffers) != 1 {
		t.Fatalf("repeat read produced %d buffers, want 1", len(buffers))
	}
	got := string(buffers[0])
	if got != "xyxyx" {
		t.Fatalf("tiled content %q, want %q", got, "xyxyx")
	}
}

func TestReadInputBuffersDummy(t *testing.T) {
	rt := &Runtime{Memory: CreateMemoryInterface()}
	buffers := rt.readInputBuffers([]Fifo{{Attribute: FifoDummy}})
	if len(buffers) != 1 || buffers[0] != nil {
		t.Fatalf("dummy fifo read %v, want one nil buffer", buffers)
	}
}

func TestExternalBuffers(t *testing.T) {
	mi := CreateMemoryInterface()
	rt := &Runtime{Memory: mi}
	mi.RegisterExternalBuffer(3, []byte("outside"))
	fifos := []Fifo{{VirtualAddress: 3, Size: 7, Attribute: FifoRWExt}}
	buffers := rt.readInputBuffers(fifos)
	if string(buffers[0]) != "outside" {
		t.Fatalf("external read %q", buffers[0])
	}
	// external buffers are never reclaimed
	mi.Release(0)
	if mi.External(3) == nil {
		t.Fatalf("external buffer reclaimed by release")
	}
}

func TestTraceManagerGathersRecords(t *testing.T) {
	tm := CreateTraceManager("test", true)
	task := &Task{Ix: 1, Vertex: &Vertex{Name: "A", ID: 7}, EndTime: 42}
	tm.AddTaskTrace(task, 0)
	if tm.RecordCount() != 1 {
		t.Fatalf("trace count %d, want 1", tm.RecordCount())
	}
	inactive := CreateTraceManager("off", false)
	inactive.AddTaskTrace(task, 0)
	if inactive.RecordCount() != 0 {
		t.Fatalf("inactive manager gathered records")
	}
}
