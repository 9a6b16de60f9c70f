package spider2

// file task.go holds the unit of scheduled work: one firing of one vertex,
// or one of the two synchronization task kinds the mapper inserts when data
// crosses a cluster boundary.

import (
	"fmt"
	"hash/fnv"
)

// TaskState tracks a task through the scheduling pipeline.
type TaskState uint8

const (
	TaskNotSchedulable TaskState = iota
	TaskNotRunnable
	TaskPending
	TaskReady
	TaskRunning
	TaskDone
)

// TaskKind separates firing tasks from the auxiliary sync kinds.
type TaskKind uint8

const (
	TaskFiring TaskKind = iota
	TaskSend
	TaskReceive
)

// noConstraint marks an empty slot of the per-LRT constraint vector.
const noConstraint = ^uint32(0)

// noTask marks an unassigned schedule index.
const noTask = ^uint32(0)

// A Task is one schedulable unit.  Firing tasks reference their vertex and
// firing; sync tasks reference the clusters they bridge and the sibling task
// of their pair.
type Task struct {
	Ix    uint32
	Kind  TaskKind
	State TaskState

	Vertex   *Vertex
	Firing   *GraphFiring
	FiringIx uint32

	// sync task fields
	Size        uint64
	FromCluster *Cluster
	ToCluster   *Cluster
	Sibling     *Task

	MappedPE  *PE
	StartTime uint64
	EndTime   uint64
	JobExecIx uint32

	ExecConstraints []uint32 // per LRT: job index to wait for, noConstraint if none
	NotifyVec       []bool   // per LRT: completion notification required

	Deps        []*Task
	InputDeps   [][]DependencyInfo // per input port, firing tasks only
	InputFifos  []Fifo
	OutputFifos []Fifo

	// SyncOptimizable marks sync pairs as candidates for collapsing; the
	// allocator does not collapse them.
	SyncOptimizable bool
}

// CreateFiringTask builds the task for one firing of an executable vertex.
func CreateFiringTask(gf *GraphFiring, v *Vertex, firing uint32, lrtCount int) *Task {
	t := new(Task)
	t.Ix = noTask
	t.Kind = TaskFiring
	t.State = TaskPending
	t.Vertex = v
	t.Firing = gf
	t.FiringIx = firing
	t.JobExecIx = noTask
	t.ExecConstraints = makeConstraints(lrtCount)
	t.NotifyVec = make([]bool, lrtCount)
	return t
}

// CreateSyncTask builds one half of a send/receive pair bridging two
// clusters.
func CreateSyncTask(kind TaskKind, from, to *Cluster, size uint64, lrtCount int) *Task {
	t := new(Task)
	t.Ix = noTask
	t.Kind = kind
	t.State = TaskPending
	t.Size = size
	t.FromCluster = from
	t.ToCluster = to
	t.JobExecIx = noTask
	t.ExecConstraints = makeConstraints(lrtCount)
	t.NotifyVec = make([]bool, lrtCount)
	t.SyncOptimizable = true
	return t
}

func makeConstraints(lrtCount int) []uint32 {
	constraints := make([]uint32, lrtCount)
	for ix := range constraints {
		constraints[ix] = noConstraint
	}
	return constraints
}

// Name labels the task for schedules, traces and the Gantt export.
func (t *Task) Name() string {
	switch t.Kind {
	case TaskSend:
		return fmt.Sprintf("send:%d->%d", t.FromCluster.Ix, t.ToCluster.Ix)
	case TaskReceive:
		return fmt.Sprintf("recv:%d->%d", t.FromCluster.Ix, t.ToCluster.Ix)
	default:
		return fmt.Sprintf("%s:%d", t.Vertex.Name, t.FiringIx)
	}
}

// Color packs an 8-bit R/G/B hash of the producing vertex into 24 bits.
func (t *Task) Color() uint32 {
	h := fnv.New32a()
	if t.Vertex != nil {
		fmt.Fprintf(h, "%s#%d", t.Vertex.Name, t.Vertex.ID)
	} else {
		fmt.Fprintf(h, "sync#%d->%d", t.FromCluster.Ix, t.ToCluster.Ix)
	}
	sum := h.Sum32()
	red := (sum >> 16) & 0xFF
	green := (sum >> 8) & 0xFF
	blue := sum & 0xFF
	return red<<16 | green<<8 | blue
}

// IsMappableOnPE checks the task against a PE.  Sync tasks are pinned to
// their cluster; firing tasks follow the vertex constraint set.
func (t *Task) IsMappableOnPE(pe *PE) bool {
	switch t.Kind {
	case TaskSend:
		return pe.Enabled && pe.Cluster == t.FromCluster
	case TaskReceive:
		return pe.Enabled && pe.Cluster == t.ToCluster
	default:
		return t.Vertex.RTInfo.IsMappableOnPE(pe)
	}
}

// TimingOnPE returns the task's execution time on a PE.  Sync tasks are
// priced by their cluster's read/write routine.
func (t *Task) TimingOnPE(pe *PE) uint64 {
	switch t.Kind {
	case TaskSend:
		return t.FromCluster.WriteCost(t.Size)
	case TaskReceive:
		return t.ToCluster.ReadCost(t.Size)
	default:
		return t.Vertex.RTInfo.Timing(pe, t.Firing.Params)
	}
}

// ReadyTime returns the earliest start permitted by the task's producers.
func (t *Task) ReadyTime() uint64 {
	ready := uint64(0)
	for _, dep := range t.Deps {
		if dep != nil && dep.EndTime > ready {
			ready = dep.EndTime
		}
	}
	return ready
}

// AddDep links a producer task, once.
func (t *Task) AddDep(dep *Task) {
	if dep == nil || dep == t {
		return
	}
	for _, existing := range t.Deps {
		if existing == dep {
			return
		}
	}
	t.Deps = append(t.Deps, dep)
}
