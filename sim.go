package spider2

// file sim.go holds the command line front end and the experiment driver:
// reading the description files, assembling a session, running iterations,
// and replaying a finished schedule in virtual time to produce traces.

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/iti/cmdline"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// cmdlineParams defines the parameters recognized on the command line.
func cmdlineParams() *cmdline.CmdParser {
	// command line parameters are all about file locations and runtime
	// toggles
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "exprmnt", true)   // name of experiment being run
	cp.AddFlag(cmdline.StringFlag, "inputLib", true)  // directory where model files are read from
	cp.AddFlag(cmdline.StringFlag, "outputLib", true) // directory where gantt and traces are stored
	cp.AddFlag(cmdline.StringFlag, "graph", true)     // name of input file holding the application graph
	cp.AddFlag(cmdline.StringFlag, "platform", true)  // name of input file holding the platform
	cp.AddFlag(cmdline.StringFlag, "timing", true)    // name of input file holding timings and mappings
	cp.AddFlag(cmdline.StringFlag, "gantt", false)    // name of output file for the gantt svg
	cp.AddFlag(cmdline.StringFlag, "trace", false)    // name of output file for trace records
	cp.AddFlag(cmdline.IntFlag, "iters", false)       // number of top-level graph iterations
	cp.AddFlag(cmdline.BoolFlag, "jit", false)        // JIT policy: no replay; dispatch stays per pass
	cp.AddFlag(cmdline.BoolFlag, "verbose", false)    // print the schedule per pass
	cp.AddFlag(cmdline.BoolFlag, "json", false)       // input files in json rather than yaml
	return cp
}

// ExperimentArgs carries the parsed command line.
type ExperimentArgs struct {
	Name      string
	Iters     int
	GanttPath string
	TracePath string

	syn map[string]string
	cp  *cmdline.CmdParser
}

// ReadExperimentArgs defines the command line parameters expected and reads
// them.
func ReadExperimentArgs() *ExperimentArgs {
	cp := cmdlineParams()
	cp.Parse()

	args := new(ExperimentArgs)
	args.cp = cp
	args.syn = make(map[string]string)
	args.Name = cp.GetVar("exprmnt").(string)

	inputDir := cp.GetVar("inputLib").(string)
	outputDir := cp.GetVar("outputLib").(string)
	for _, key := range []string{"graph", "platform", "timing"} {
		args.syn[key] = filepath.Join(inputDir, cp.GetVar(key).(string))
	}
	if cp.IsLoaded("gantt") {
		args.GanttPath = filepath.Join(outputDir, cp.GetVar("gantt").(string))
	}
	if cp.IsLoaded("trace") {
		args.TracePath = filepath.Join(outputDir, cp.GetVar("trace").(string))
	}
	args.Iters = 1
	if cp.IsLoaded("iters") {
		args.Iters = cp.GetVar("iters").(int)
	}
	return args
}

// BuildExperiment assembles a session from the description files named on
// the command line.
func BuildExperiment(args *ExperimentArgs) (*Session, error) {
	useYAML := !args.cp.IsLoaded("json") || !args.cp.GetVar("json").(bool)
	ext := path.Ext(args.syn["graph"])
	useYAML = useYAML || ext == ".yaml" || ext == ".yml"

	gd, err := ReadGraphDesc(args.syn["graph"], useYAML, nil)
	if err != nil {
		return nil, err
	}
	pd, err := ReadPlatformDesc(args.syn["platform"], useYAML, nil)
	if err != nil {
		return nil, err
	}
	tl, err := ReadTimingList(args.syn["timing"], useYAML, nil)
	if err != nil {
		return nil, err
	}

	s := NewSession()
	if args.cp.IsLoaded("verbose") {
		s.Config.Verbose = args.cp.GetVar("verbose").(bool)
	}
	if args.cp.IsLoaded("jit") && args.cp.GetVar("jit").(bool) {
		s.Config.Policy = PolicyJIT
	}
	s.Config.ExportTrace = args.TracePath != ""
	s.Config.GanttPath = args.GanttPath

	pf, err := BuildPlatform(pd)
	if err != nil {
		return nil, err
	}
	s.Platform = pf
	s.platformSet = true

	g, err := BuildGraph(gd)
	if err != nil {
		return nil, err
	}
	if g.Name == reservedGraphName {
		return nil, fmt.Errorf("graph name %q is reserved", reservedGraphName)
	}
	if err := tl.Apply(g, pf); err != nil {
		return nil, err
	}
	s.Graph = g
	s.graphSet = true
	return s, nil
}

// RunExperiment drives a built session through the requested iterations and
// writes the requested outputs.
func RunExperiment(s *Session, args *ExperimentArgs) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()
	for iter := 0; iter < args.Iters; iter++ {
		if err := s.Iterate(); err != nil {
			return err
		}
	}
	if args.GanttPath != "" {
		if err := s.ExportGantt(args.GanttPath); err != nil {
			return err
		}
	}
	if args.TracePath != "" {
		// replay the final schedule in virtual time so the trace carries
		// the planned start of every task alongside the live completions
		if s.Config.Policy == PolicyDelayed {
			ReplaySchedule(s.Scheduler.Schedule, s.TraceMgr)
		}
		s.TraceMgr.WriteToFile(args.TracePath)
	}
	if s.Config.Verbose {
		Summarize(s.Scheduler.Schedule, s.Platform).Report()
	}
	return nil
}

// replayEvent carries one task through the virtual-time replay.
type replayEvent struct {
	task *Task
	tm   *TraceManager
}

// replayHandler fires when a task's virtual start time is reached.
func replayHandler(evtMgr *evtm.EventManager, context any, data any) any {
	re := context.(*replayEvent)
	lrtIx := re.task.MappedPE.LRTIx
	re.tm.AddTrace(evtMgr.CurrentTime(), int(re.task.Ix), 0, lrtIx, "start", re.task.Name())
	return nil
}

// ReplaySchedule walks a completed schedule in virtual time, firing one
// event per task at its mapped start time and recording trace records.
// Useful to inspect a delayed-policy schedule without executing kernels.
func ReplaySchedule(schedule *Schedule, tm *TraceManager) {
	evtMgr := evtm.New()
	for _, t := range schedule.Tasks {
		re := &replayEvent{task: t, tm: tm}
		evtMgr.Schedule(re, nil, replayHandler, vrtime.SecondsToTime(float64(t.StartTime)))
	}
	evtMgr.Run(float64(schedule.Stats.MaxEndTime() + 1))
}
