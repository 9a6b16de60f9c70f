package spider2

// file spider2.go ties the pieces together: a Session owns the platform, the
// application graph, the firing tree, the scheduler and the worker runtime,
// and drives the analyze/schedule/dispatch loop across graph iterations.

import (
	"fmt"
)

// reservedGraphName is the name the session gives the implicit top-level
// container; user graphs may not take it.
const reservedGraphName = "app-graph"

// RuntimeConfig gathers the user-facing toggles.
type RuntimeConfig struct {
	Verbose            bool
	ExportTrace        bool
	StaticScheduleOpt  bool
	SRDAGOptims        bool
	Policy             SchedulePolicy
	GanttPath          string
}

// A Session owns one platform and one application graph and everything
// derived from them.  API functions hang off the session; there is no
// process-wide state.
type Session struct {
	Config RuntimeConfig

	Platform *Platform
	Graph    *Graph

	Allocator *FifoAllocator
	Scheduler *Scheduler
	Memory    *MemoryInterface
	Runtime   *Runtime
	TraceMgr  *TraceManager

	Kernels []Kernel

	root *GraphHandler

	platformSet bool
	graphSet    bool
	started     bool
	needReset   bool

	// analysisErr records a failed re-analysis (inconsistent BRV after a
	// parameter update); surfaced at the end of the iteration with runtime
	// state left intact for inspection
	analysisErr error
}

// NewSession is a constructor.
func NewSession() *Session {
	s := new(Session)
	s.Allocator = CreateFifoAllocator()
	s.Memory = CreateMemoryInterface()
	s.Config.Policy = PolicyDelayed
	return s
}

// CreatePlatform installs the hardware description.  Only one platform may
// exist per session.
func (s *Session) CreatePlatform(clusterCount int) (*Platform, error) {
	if s.platformSet {
		return nil, fmt.Errorf("session already has a platform")
	}
	s.Platform = CreatePlatform(clusterCount)
	s.platformSet = true
	return s.Platform, nil
}

// CreateUserGraph installs the top-level application graph.  Only one
// application graph may exist per session, and the reserved name is
// forbidden.
func (s *Session) CreateUserGraph(name string, vertexCount, edgeCount, paramCount int) (*Graph, error) {
	if s.graphSet {
		return nil, fmt.Errorf("session already has an application graph")
	}
	if name == reservedGraphName {
		return nil, fmt.Errorf("graph name %q is reserved", reservedGraphName)
	}
	s.Graph = CreateGraph(name, vertexCount, edgeCount, paramCount)
	s.graphSet = true
	return s.Graph, nil
}

// AdoptModel accepts a platform and graph installed directly on the session
// fields, for programmatic builders that bypass the create functions.
func (s *Session) AdoptModel() {
	s.platformSet = s.Platform != nil
	s.graphSet = s.Graph != nil
}

// RegisterKernel installs an actor kernel and returns its index.
func (s *Session) RegisterKernel(k Kernel) int {
	s.Kernels = append(s.Kernels, k)
	return len(s.Kernels) - 1
}

// Start validates the model, reserves persistent delay storage, builds the
// firing tree and the scheduler, and launches the worker pool.  The
// physical platform must exist before the runtime can.
func (s *Session) Start() error {
	if !s.platformSet {
		return fmt.Errorf("runtime started before the platform was described")
	}
	if !s.graphSet {
		return fmt.Errorf("runtime started before an application graph was built")
	}
	if s.started {
		return fmt.Errorf("session already started")
	}
	if err := s.Graph.Validate(); err != nil {
		return err
	}
	s.Allocator.AllocatePersistentDelays(s.Graph)
	s.Memory.SetPersistentLimit(s.Allocator.PersistentLimit())
	for _, region := range s.Allocator.PersistentRegions() {
		s.Memory.Allocate(region.VirtualAddress, region.Size, 1)
	}
	s.Scheduler = CreateScheduler(s.Platform, s.Allocator, s.Config.Policy)
	s.Runtime = CreateRuntime(s.Platform, s.Memory, s.Kernels)
	s.TraceMgr = CreateTraceManager(s.Graph.Name, s.Config.ExportTrace)
	s.root = CreateGraphHandler(s.Graph, nil, 1)
	if err := s.root.Firing(0).ResolveBRV(); err != nil {
		return err
	}
	s.Runtime.Start()
	s.started = true
	return nil
}

// Iterate runs one top-level graph iteration: schedule what is resolvable,
// dispatch it, fold returned dynamic parameters back in, and reschedule
// until the whole iteration has executed.
func (s *Session) Iterate() error {
	if !s.started {
		return fmt.Errorf("session not started")
	}
	// the previous iteration's schedule stays inspectable until the next
	// one begins
	if s.needReset {
		s.resetIteration()
	}
	for {
		emitted, err := s.Scheduler.SchedulePass(s.root)
		if err != nil {
			return err
		}
		if len(emitted) == 0 {
			break
		}
		if s.Config.Verbose {
			s.Scheduler.Schedule.Print()
		}
		if err := s.dispatchAndDrain(emitted); err != nil {
			return err
		}
	}
	s.needReset = true
	if err := s.analysisErr; err != nil {
		s.analysisErr = nil
		return err
	}
	return nil
}

// dispatchAndDrain pushes a pass's tasks to the LRT queues and waits for
// their completion reports, applying parameter messages as they arrive.
func (s *Session) dispatchAndDrain(tasks []*Task) error {
	dispatched := 0
	for _, t := range tasks {
		if err := s.Runtime.Dispatch(t); err != nil {
			return err
		}
		dispatched++
	}
	completed := 0
	highJob := make(map[int]uint32)
	for completed < dispatched {
		select {
		case trace := <-s.Runtime.Traces():
			completed++
			if t := s.Scheduler.Schedule.Task(trace.TaskIx); t != nil {
				t.State = TaskDone
				if t.JobExecIx != noTask {
					if cur, present := highJob[trace.LrtIx]; !present || t.JobExecIx > cur {
						highJob[trace.LrtIx] = t.JobExecIx
					}
				}
				if s.TraceMgr.Active() {
					s.TraceMgr.AddTaskTrace(t, trace.LrtIx)
				}
			}
		case pm := <-s.Runtime.Parameters():
			s.applyParameters(pm)
		}
	}
	// constraints of later passes on this pass's jobs are satisfied by
	// ledger broadcast, since these jobs' notification flags are frozen
	for lrtIx, jobExecIx := range highJob {
		s.Runtime.BroadcastCompletion(lrtIx, jobExecIx)
	}
	// parameters may trail the last completion
	for {
		select {
		case pm := <-s.Runtime.Parameters():
			s.applyParameters(pm)
			continue
		default:
		}
		break
	}
	return nil
}

// applyParameters is the only writer of firing parameter tables.  Receiving
// a value re-resolves the firing and any subgraphs it gates.
func (s *Session) applyParameters(pm ParameterMessage) {
	for ix, slot := range pm.Slots {
		pm.Firing.SetParamValue(slot, pm.Values[ix])
	}
	if !pm.Firing.Resolved() {
		if err := pm.Firing.ResolveBRV(); err != nil {
			s.recordAnalysisErr(pm.Firing.Handler.Graph, err)
		}
		return
	}
	// resolved firing of a dynamic graph: re-resolve unresolved children
	s.resolveChildren(pm.Firing)
}

func (s *Session) resolveChildren(gf *GraphFiring) {
	for _, child := range gf.Children {
		if child == nil {
			continue
		}
		for _, f := range child.Firings {
			if !f.Resolved() {
				if err := f.ResolveBRV(); err != nil {
					s.recordAnalysisErr(f.Handler.Graph, err)
				}
			}
			if f.Resolved() {
				s.resolveChildren(f)
			}
		}
	}
}

func (s *Session) recordAnalysisErr(g *Graph, err error) {
	if s.Config.Verbose {
		fmt.Printf("re-analysis of %s failed: %v\n", g.Name, err)
	}
	if s.analysisErr == nil {
		s.analysisErr = err
	}
}

// resetIteration clears per-iteration state.  Persistent delay storage and
// its addresses survive; everything else is released and, for dynamic
// graphs, re-resolved on the next iteration.
func (s *Session) resetIteration() {
	s.root.Firing(0).Reset()
	if s.Graph.Dynamic() {
		if err := s.root.Firing(0).ResolveBRV(); err != nil {
			s.recordAnalysisErr(s.Graph, err)
		}
	}
	s.Scheduler.Schedule.Clear()
	s.Allocator.Clear()
	s.Memory.Release(s.Allocator.PersistentLimit())
}

// Stop halts the worker pool.  In-flight kernels finish, queues drain, and
// the session can be inspected afterwards.
func (s *Session) Stop() {
	if s.started {
		s.Runtime.Stop()
		s.started = false
	}
}

// ExportGantt writes the SVG Gantt of the current schedule.
func (s *Session) ExportGantt(path string) error {
	return ExportGanttSVG(path, s.Scheduler.Schedule, s.Platform)
}
