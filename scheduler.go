package spider2

// file scheduler.go builds the task list of one scheduling pass: it walks
// the firing tree, filters out firings whose dependencies reach into
// unresolved subgraphs, orders the rest by decreasing critical-path level,
// and hands them to the mapper one at a time.

import (
	"sort"
)

// SchedulePolicy names the dispatch policy of a session.  Under both
// policies every pass is mapped and allocated in full before any of its
// tasks is dispatched.
type SchedulePolicy int

const (
	// PolicyJIT differs from PolicyDelayed only in that RunExperiment skips
	// the virtual-time replay; tasks are not dispatched one by one as they
	// are mapped.
	PolicyJIT SchedulePolicy = iota
	// PolicyDelayed maps the whole pass before dispatching anything.
	PolicyDelayed
)

// A Scheduler owns one schedule and the mapper and allocator that fill it.
type Scheduler struct {
	Platform  *Platform
	Schedule  *Schedule
	Mapper    *Mapper
	Allocator *FifoAllocator
	Policy    SchedulePolicy
}

// CreateScheduler is a constructor.
func CreateScheduler(platform *Platform, allocator *FifoAllocator, policy SchedulePolicy) *Scheduler {
	sched := new(Scheduler)
	sched.Platform = platform
	sched.Schedule = CreateSchedule(platform)
	sched.Mapper = CreateMapper(platform, sched.Schedule)
	sched.Allocator = allocator
	sched.Policy = policy
	return sched
}

// candidateKey identifies one vertex firing within one graph firing.
type candidateKey struct {
	gf     *GraphFiring
	vertex *Vertex
	firing uint32
}

// SchedulePass emits every schedulable vertex firing of the tree under
// root that has not been scheduled yet, in level order.  Firings whose
// dependencies point into unresolved subgraphs are left for the next pass.
// The returned slice holds the tasks emitted by this pass, in emission
// order.  A numeric failure while evaluating a rate or timing aborts the
// pass and is returned; the schedule built so far stays inspectable.
func (sched *Scheduler) SchedulePass(root *GraphHandler) (emitted []*Task, err error) {
	defer catchEvalError(&err)
	lrtCount := sched.Platform.LRTCount()

	// (1) collect unscheduled firings of every resolved graph firing
	var candidates []*Task
	byKey := make(map[candidateKey]*Task)
	collectCandidates(root, lrtCount, &candidates, byKey)

	// (2) resolve dependencies; unresolved ones poison the candidate and
	// its same-graph successors
	for _, t := range candidates {
		if t.State == TaskNotSchedulable {
			continue
		}
		t.InputDeps = ComputeExecDependencies(t.Vertex, t.FiringIx, t.Firing)
		if hasUnresolved(t.InputDeps) {
			markNotSchedulable(t, byKey)
		}
	}
	// link producer tasks, then push NotSchedulable through the links
	// until nothing changes, so no task maps ahead of a held-back producer
	for _, t := range candidates {
		if t.State != TaskNotSchedulable {
			sched.linkDeps(t, byKey)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, t := range candidates {
			if t.State == TaskNotSchedulable {
				continue
			}
			for _, dep := range t.Deps {
				if dep.State == TaskNotSchedulable {
					markNotSchedulable(t, byKey)
					changed = true
					break
				}
			}
		}
	}
	schedulable := candidates[:0]
	for _, t := range candidates {
		if t.State != TaskNotSchedulable {
			schedulable = append(schedulable, t)
		}
	}

	// (3) order by decreasing critical-path level
	levels := computeLevels(schedulable, sched.Platform)
	sort.SliceStable(schedulable, func(i, j int) bool {
		return levels[schedulable[i]] > levels[schedulable[j]]
	})

	// (4) map in order; producers always precede their consumers, so fifo
	// allocation can run as tasks are emitted
	for _, t := range schedulable {
		if err := sched.Mapper.Map(t); err != nil {
			return nil, err
		}
		t.Firing.RegisterTaskIx(t.Vertex, t.FiringIx, t.Ix)
	}
	emitted = make([]*Task, 0, len(schedulable))
	for _, t := range schedulable {
		if err := sched.Allocator.Allocate(t, sched.Schedule); err != nil {
			return nil, err
		}
		emitted = append(emitted, t)
	}

	// sync tasks were inserted by the mapper between producers and
	// consumers; allocate them too, in schedule order
	for _, t := range sched.Schedule.Tasks {
		if t.Kind != TaskFiring && len(t.OutputFifos) == 0 {
			if err := sched.Allocator.Allocate(t, sched.Schedule); err != nil {
				return nil, err
			}
			emitted = append(emitted, t)
		}
	}
	sort.SliceStable(emitted, func(i, j int) bool { return emitted[i].Ix < emitted[j].Ix })
	return emitted, nil
}

// collectCandidates gathers every unscheduled executable vertex firing of
// every resolved firing of the tree.
func collectCandidates(gh *GraphHandler, lrtCount int, out *[]*Task, byKey map[candidateKey]*Task) {
	for _, gf := range gh.Firings {
		if !gf.Resolved() {
			// a pending graph still runs its config actors, whose
			// outputs are what unblocks it
			for _, v := range gh.Graph.ConfigVertices {
				if gf.TaskIx(v, 0) != unresolvedRV {
					continue
				}
				t := CreateFiringTask(gf, v, 0, lrtCount)
				*out = append(*out, t)
				byKey[candidateKey{gf, v, 0}] = t
			}
			continue
		}
		for _, v := range gh.Graph.Vertices {
			if !v.Executable() {
				continue
			}
			count := gf.RV(v)
			if count == unresolvedRV {
				continue
			}
			for k := uint32(0); k < count; k++ {
				if gf.TaskIx(v, k) != unresolvedRV {
					continue
				}
				t := CreateFiringTask(gf, v, k, lrtCount)
				*out = append(*out, t)
				byKey[candidateKey{gf, v, k}] = t
			}
		}
		for _, child := range gf.Children {
			if child != nil {
				collectCandidates(child, lrtCount, out, byKey)
			}
		}
	}
}

func hasUnresolved(deps [][]DependencyInfo) bool {
	for _, portDeps := range deps {
		for _, dep := range portDeps {
			if dep.Unresolved() {
				return true
			}
		}
	}
	return false
}

// markNotSchedulable poisons a candidate and, transitively, every candidate
// consuming it within the same graph firing.
func markNotSchedulable(t *Task, byKey map[candidateKey]*Task) {
	if t.State == TaskNotSchedulable {
		return
	}
	t.State = TaskNotSchedulable
	for _, e := range t.Vertex.OutEdges {
		snk := e.Sink
		if !snk.Executable() {
			continue
		}
		count := t.Firing.RV(snk)
		if count == unresolvedRV {
			continue
		}
		for k := uint32(0); k < count; k++ {
			if succ, present := byKey[candidateKey{t.Firing, snk, k}]; present {
				markNotSchedulable(succ, byKey)
			}
		}
	}
}

// linkDeps resolves each dependency interval to its producer task: either a
// candidate of this pass or a task emitted by an earlier pass.
func (sched *Scheduler) linkDeps(t *Task, byKey map[candidateKey]*Task) {
	for _, portDeps := range t.InputDeps {
		for _, dep := range portDeps {
			if dep.Delay != nil || dep.Vertex == nil {
				continue
			}
			for firing := dep.FiringStart; firing <= dep.FiringEnd; firing++ {
				if producer, present := byKey[candidateKey{dep.Firing, dep.Vertex, firing}]; present {
					t.AddDep(producer)
					continue
				}
				if prior := sched.Schedule.Task(dep.Firing.TaskIx(dep.Vertex, firing)); prior != nil {
					t.AddDep(prior)
				}
			}
		}
	}
}

// computeLevels assigns each task its critical-path level: the longest chain
// of successor timings below it.  Leaves sit at level zero.
func computeLevels(tasks []*Task, platform *Platform) map[*Task]uint64 {
	successors := make(map[*Task][]*Task, len(tasks))
	inSet := make(map[*Task]bool, len(tasks))
	for _, t := range tasks {
		inSet[t] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Deps {
			if inSet[dep] {
				successors[dep] = append(successors[dep], t)
			}
		}
	}
	levels := make(map[*Task]uint64, len(tasks))
	var level func(t *Task) uint64
	level = func(t *Task) uint64 {
		if value, present := levels[t]; present {
			return value
		}
		// mark in-progress; single-rate expansion admits no cycles
		levels[t] = 0
		result := uint64(0)
		for _, succ := range successors[t] {
			candidate := level(succ) + nominalTiming(succ, platform)
			if candidate > result {
				result = candidate
			}
		}
		levels[t] = result
		return result
	}
	for _, t := range tasks {
		level(t)
	}
	return levels
}

// nominalTiming prices a task for level computation: its timing on the
// first PE it can map to.
func nominalTiming(t *Task, platform *Platform) uint64 {
	for _, pe := range platform.PEs {
		if t.IsMappableOnPE(pe) {
			return t.TimingOnPE(pe)
		}
	}
	return 1
}
