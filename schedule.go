package spider2

// file schedule.go holds the ordered task list produced by the scheduler and
// the per-PE statistics the mapper consults when placing work.

import (
	"fmt"
)

// Stats tracks per-PE occupancy across one scheduling pass.
type Stats struct {
	startTime []uint64
	endTime   []uint64
	loadTime  []uint64
	idleTime  []uint64
	jobCount  []uint32
	started   []bool
}

// CreateStats sizes the counters for a platform.
func CreateStats(peCount int) *Stats {
	st := new(Stats)
	st.startTime = make([]uint64, peCount)
	st.endTime = make([]uint64, peCount)
	st.loadTime = make([]uint64, peCount)
	st.idleTime = make([]uint64, peCount)
	st.jobCount = make([]uint32, peCount)
	st.started = make([]bool, peCount)
	return st
}

// Reset zeroes every counter.
func (st *Stats) Reset() {
	for ix := range st.endTime {
		st.startTime[ix] = 0
		st.endTime[ix] = 0
		st.loadTime[ix] = 0
		st.idleTime[ix] = 0
		st.jobCount[ix] = 0
		st.started[ix] = false
	}
}

// EndTime returns the time the PE's last mapped task finishes.
func (st *Stats) EndTime(peIx int) uint64 { return st.endTime[peIx] }

// JobCount returns how many jobs have been mapped on the PE.
func (st *Stats) JobCount(peIx int) uint32 { return st.jobCount[peIx] }

// LoadTime returns the busy time accumulated on the PE.
func (st *Stats) LoadTime(peIx int) uint64 { return st.loadTime[peIx] }

// IdleTime returns the gap time accumulated on the PE.
func (st *Stats) IdleTime(peIx int) uint64 { return st.idleTime[peIx] }

// UtilizationFactor returns load over span for the PE.
func (st *Stats) UtilizationFactor(peIx int) float64 {
	span := st.Makespan()
	if span == 0 {
		return 0
	}
	return float64(st.loadTime[peIx]) / float64(span)
}

// MinStartTime returns the earliest mapped start across PEs.
func (st *Stats) MinStartTime() uint64 {
	result := uint64(0)
	first := true
	for ix, used := range st.started {
		if !used {
			continue
		}
		if first || st.startTime[ix] < result {
			result = st.startTime[ix]
			first = false
		}
	}
	return result
}

// MaxEndTime returns the latest mapped end across PEs.
func (st *Stats) MaxEndTime() uint64 {
	result := uint64(0)
	for _, end := range st.endTime {
		if end > result {
			result = end
		}
	}
	return result
}

// Makespan returns the span between the earliest start and latest end.
func (st *Stats) Makespan() uint64 {
	return st.MaxEndTime() - st.MinStartTime()
}

// A Schedule is the ordered list of mapped tasks of one scheduling pass,
// plus the per-PE statistics accumulated while mapping.
type Schedule struct {
	Tasks []*Task
	Stats *Stats

	// jobCounts indexed by LRT, used to assign per-LRT job execution
	// indices at mapping time.
	jobCounts []uint32
}

// CreateSchedule is a constructor.
func CreateSchedule(platform *Platform) *Schedule {
	sc := new(Schedule)
	sc.Stats = CreateStats(platform.PECount())
	sc.jobCounts = make([]uint32, platform.LRTCount())
	return sc
}

// Clear drops every task and zeroes the statistics.
func (sc *Schedule) Clear() {
	sc.Stats.Reset()
	sc.Tasks = sc.Tasks[:0]
	for ix := range sc.jobCounts {
		sc.jobCounts[ix] = 0
	}
}

// Reset marks every task ready again without remapping, for replay of a
// static schedule on the next graph iteration.
func (sc *Schedule) Reset() {
	for _, t := range sc.Tasks {
		t.State = TaskReady
	}
}

// AddTask appends a task and assigns its schedule index.
func (sc *Schedule) AddTask(t *Task) {
	t.Ix = uint32(len(sc.Tasks))
	sc.Tasks = append(sc.Tasks, t)
}

// Task returns the task at a schedule index.
func (sc *Schedule) Task(ix uint32) *Task {
	if ix == noTask || int(ix) >= len(sc.Tasks) {
		return nil
	}
	return sc.Tasks[ix]
}

// UpdateTaskAndSetReady commits a mapping decision: sets the task's PE and
// times, assigns its per-LRT job execution index, and folds the decision
// into the statistics.
func (sc *Schedule) UpdateTaskAndSetReady(t *Task, pe *PE, startTime, endTime uint64) {
	if t.State == TaskReady {
		return
	}
	peIx := pe.VirtIx
	t.MappedPE = pe
	t.StartTime = startTime
	t.EndTime = endTime
	if pe.LRTIx >= 0 {
		t.JobExecIx = sc.jobCounts[pe.LRTIx]
		sc.jobCounts[pe.LRTIx]++
	}
	if !sc.Stats.started[peIx] {
		sc.Stats.startTime[peIx] = startTime
		sc.Stats.started[peIx] = true
	}
	sc.Stats.idleTime[peIx] += startTime - sc.Stats.endTime[peIx]
	sc.Stats.endTime[peIx] = endTime
	sc.Stats.loadTime[peIx] += endTime - startTime
	sc.Stats.jobCount[peIx]++
	t.State = TaskReady
}

// Print writes a one-line summary per task, for verbose runs.
func (sc *Schedule) Print() {
	for _, t := range sc.Tasks {
		fmt.Printf("%4d %-24s pe=%-10s [%d:%d] job=%d\n",
			t.Ix, t.Name(), t.MappedPE.Name, t.StartTime, t.EndTime, t.JobExecIx)
	}
}
