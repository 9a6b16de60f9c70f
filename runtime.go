package spider2

// file runtime.go executes a schedule: one goroutine per LRT worker plus the
// global runtime, which owns the scheduler, the allocator and the parameter
// table.  Queues are bounded channels; each LRT's job queue has a single
// writer (the global runtime), and its notification queue is written by
// peer workers and, between passes, by the global runtime.

import (
	"fmt"
	"sync"
)

// queueDepth bounds every runtime channel.
const queueDepth = 256

// A JobConstraint makes a job wait until another LRT has completed a given
// job execution index.
type JobConstraint struct {
	LrtIx int
	JobIx uint32
}

// A JobMessage carries everything an LRT needs to run one task.
type JobMessage struct {
	Stop bool // shutdown sentinel

	KernelIx  int
	TaskIx    uint32
	JobExecIx uint32
	LrtIx     int

	Constraints []JobConstraint
	NotifyVec   []bool

	InputParams []int64
	ParamsOut   []int // firing parameter slots receiving kernel outputs

	Inputs  []Fifo
	Outputs []Fifo

	// Firing lets the worker label its parameter write-back; the global
	// runtime remains the only writer of the parameter table.
	Firing *GraphFiring
}

// A ParameterMessage reports dynamic parameter values produced by a config
// actor's firing.
type ParameterMessage struct {
	Firing *GraphFiring
	Slots  []int
	Values []int64
}

// A NotificationMessage tells an LRT that a peer finished a job.
type NotificationMessage struct {
	SenderLrtIx int
	JobExecIx   uint32
}

// A TraceMessage reports one completed job back to the global runtime.
type TraceMessage struct {
	TaskIx    uint32
	LrtIx     int
	StartTime uint64
	EndTime   uint64
}

// A Kernel is the opaque callable of one actor: input buffers, output
// buffers, input parameter values in, output parameter values back.
type Kernel func(inputs [][]byte, outputs [][]byte, params []int64) []int64

// An LRT is one local runtime worker bound to one PE.
type LRT struct {
	Ix int
	PE *PE

	jobs   chan JobMessage
	notifs chan NotificationMessage

	// ledger[k] is the number of jobs LRT k is known to have completed
	ledger []uint32
}

// A Runtime owns the worker pool and the channels tying it to the global
// runtime thread.
type Runtime struct {
	Platform *Platform
	Memory   *MemoryInterface
	Kernels  []Kernel

	LRTs []*LRT

	params chan ParameterMessage
	traces chan TraceMessage

	wg sync.WaitGroup
}

// CreateRuntime builds the worker pool for a platform.  Workers start on
// Start and drain until their stop sentinel.
func CreateRuntime(platform *Platform, memory *MemoryInterface, kernels []Kernel) *Runtime {
	rt := new(Runtime)
	rt.Platform = platform
	rt.Memory = memory
	rt.Kernels = kernels
	rt.params = make(chan ParameterMessage, queueDepth)
	rt.traces = make(chan TraceMessage, queueDepth)
	lrtCount := platform.LRTCount()
	for _, pe := range platform.PEs {
		if pe.LRTIx < 0 {
			continue
		}
		lrt := new(LRT)
		lrt.Ix = pe.LRTIx
		lrt.PE = pe
		lrt.jobs = make(chan JobMessage, queueDepth)
		lrt.notifs = make(chan NotificationMessage, queueDepth)
		lrt.ledger = make([]uint32, lrtCount)
		rt.LRTs = append(rt.LRTs, lrt)
	}
	return rt
}

// Start launches one goroutine per LRT.
func (rt *Runtime) Start() {
	for _, lrt := range rt.LRTs {
		rt.wg.Add(1)
		go func(lrt *LRT) {
			defer rt.wg.Done()
			rt.runLRT(lrt)
		}(lrt)
	}
}

// Stop sends every worker its shutdown sentinel and waits for the pool to
// drain.  In-flight kernels complete normally.
func (rt *Runtime) Stop() {
	for _, lrt := range rt.LRTs {
		lrt.jobs <- JobMessage{Stop: true}
	}
	rt.wg.Wait()
}

// Dispatch builds and enqueues the job message of a mapped task.
func (rt *Runtime) Dispatch(t *Task) (err error) {
	defer catchEvalError(&err)
	pe := t.MappedPE
	if pe == nil || pe.LRTIx < 0 {
		return fmt.Errorf("task %s is not mapped on an LRT PE", t.Name())
	}
	msg := JobMessage{
		KernelIx:  -1,
		TaskIx:    t.Ix,
		JobExecIx: t.JobExecIx,
		LrtIx:     pe.LRTIx,
		NotifyVec: append([]bool(nil), t.NotifyVec...),
		Inputs:    append([]Fifo(nil), t.InputFifos...),
		Outputs:   append([]Fifo(nil), t.OutputFifos...),
	}
	for lrtIx, jobIx := range t.ExecConstraints {
		if jobIx != noConstraint && lrtIx != pe.LRTIx {
			msg.Constraints = append(msg.Constraints, JobConstraint{LrtIx: lrtIx, JobIx: jobIx})
		}
	}
	if t.Kind == TaskFiring {
		msg.KernelIx = t.Vertex.KernelIx
		msg.Firing = t.Firing
		for _, p := range t.Firing.Params {
			msg.InputParams = append(msg.InputParams, p.Value(t.Firing.Params))
		}
		if t.Vertex.Type == VertexConfig {
			// a config actor's output parameters are the dynamic
			// parameters of the graph it configures
			for _, p := range t.Firing.Params {
				if p.Kind == ParamDynamic {
					msg.ParamsOut = append(msg.ParamsOut, p.Ix)
				}
			}
		}
	}
	rt.LRTs[pe.LRTIx].jobs <- msg
	return nil
}

// BroadcastCompletion raises every worker's ledger entry for one LRT.  The
// global runtime calls it between passes so constraints on jobs that
// completed in an earlier pass are already satisfied, since those jobs'
// notification flags were frozen at their own dispatch.
func (rt *Runtime) BroadcastCompletion(lrtIx int, jobExecIx uint32) {
	for _, lrt := range rt.LRTs {
		if lrt.Ix != lrtIx {
			lrt.notifs <- NotificationMessage{SenderLrtIx: lrtIx, JobExecIx: jobExecIx}
		}
	}
}

// Parameters returns the channel carrying dynamic parameter values back to
// the global runtime.
func (rt *Runtime) Parameters() <-chan ParameterMessage {
	return rt.params
}

// Traces returns the channel carrying per-job completion reports.
func (rt *Runtime) Traces() <-chan TraceMessage {
	return rt.traces
}

// runLRT is the cooperative single-threaded worker loop of one LRT.
func (rt *Runtime) runLRT(lrt *LRT) {
	for {
		msg, alive := rt.nextJob(lrt)
		if !alive {
			return
		}
		rt.waitConstraints(lrt, msg)
		rt.runJob(lrt, msg)
	}
}

// nextJob blocks for the next job, draining notifications as they arrive.
func (rt *Runtime) nextJob(lrt *LRT) (JobMessage, bool) {
	for {
		select {
		case notif := <-lrt.notifs:
			lrt.applyNotification(notif)
		case msg := <-lrt.jobs:
			if msg.Stop {
				return JobMessage{}, false
			}
			return msg, true
		}
	}
}

// waitConstraints blocks until every execution constraint of the job is
// reflected in the local completion ledger.
func (rt *Runtime) waitConstraints(lrt *LRT, msg JobMessage) {
	for _, constraint := range msg.Constraints {
		for lrt.ledger[constraint.LrtIx] <= constraint.JobIx {
			notif := <-lrt.notifs
			lrt.applyNotification(notif)
		}
	}
}

// applyNotification raises the ledger; notifications are idempotent and may
// arrive out of order.
func (lrt *LRT) applyNotification(notif NotificationMessage) {
	if notif.JobExecIx+1 > lrt.ledger[notif.SenderLrtIx] {
		lrt.ledger[notif.SenderLrtIx] = notif.JobExecIx + 1
	}
}

// runJob materializes buffers, invokes the kernel, writes parameter results
// back, and fans out completion notifications.
func (rt *Runtime) runJob(lrt *LRT, msg JobMessage) {
	inputs := rt.readInputBuffers(msg.Inputs)
	outputs := rt.allocOutputBuffers(msg.Outputs)

	var paramsOut []int64
	if msg.KernelIx >= 0 && msg.KernelIx < len(rt.Kernels) && rt.Kernels[msg.KernelIx] != nil {
		paramsOut = rt.Kernels[msg.KernelIx](inputs, outputs, msg.InputParams)
	} else if len(inputs) > 0 && len(outputs) > 0 {
		// sync and kernel-less tasks move data verbatim; a repeat output
		// tiles its smaller input up to the output size
		for ix := range outputs {
			if ix < len(inputs) && inputs[ix] != nil && outputs[ix] != nil {
				if msg.Outputs[ix].Attribute == FifoRRepeat && len(inputs[ix]) > 0 {
					for offset := 0; offset < len(outputs[ix]); offset += len(inputs[ix]) {
						copy(outputs[ix][offset:], inputs[ix])
					}
				} else {
					copy(outputs[ix], inputs[ix])
				}
			}
		}
	}

	if len(msg.ParamsOut) > 0 {
		values := make([]int64, len(msg.ParamsOut))
		for ix := range msg.ParamsOut {
			if ix < len(paramsOut) {
				values[ix] = paramsOut[ix]
			}
		}
		rt.params <- ParameterMessage{Firing: msg.Firing, Slots: msg.ParamsOut, Values: values}
	}

	lrt.ledger[lrt.Ix] = msg.JobExecIx + 1
	for peer, flagged := range msg.NotifyVec {
		if flagged && peer != lrt.Ix {
			rt.LRTs[peer].notifs <- NotificationMessage{SenderLrtIx: lrt.Ix, JobExecIx: msg.JobExecIx}
		}
	}
	rt.traces <- TraceMessage{TaskIx: msg.TaskIx, LrtIx: lrt.Ix}
}

// readInputBuffers walks a fifo list and returns one buffer pointer per
// logical input, concatenating merged fifos and tiling repeat fifos.
func (rt *Runtime) readInputBuffers(fifos []Fifo) [][]byte {
	var result [][]byte
	for ix := 0; ix < len(fifos); {
		buffer, consumed := rt.readFifo(fifos, ix)
		result = append(result, buffer)
		ix += consumed
	}
	return result
}

// readFifo reads the fifo at ix, returning the buffer and how many fifo
// slots were consumed (merged fifos swallow their sub-fifos).
func (rt *Runtime) readFifo(fifos []Fifo, ix int) ([]byte, int) {
	fifo := fifos[ix]
	switch fifo.Attribute {
	case FifoDummy:
		return nil, 1
	case FifoRWExt:
		data := rt.Memory.External(fifo.VirtualAddress)
		if data == nil || fifo.Size == 0 {
			return nil, 1
		}
		return slice(data, fifo.Offset, fifo.Size), 1
	case FifoRMerge:
		merged := rt.Memory.Allocate(fifo.VirtualAddress, fifo.Size, fifo.Count)
		subCount := int(fifo.Offset)
		offset := uint64(0)
		sub := ix + 1
		for n := 0; n < subCount; n++ {
			buffer, consumed := rt.readFifo(fifos, sub)
			size := fifos[sub].Size
			if buffer != nil {
				copy(merged[offset:offset+size], buffer)
			}
			offset += size
			sub += consumed
		}
		return merged, sub - ix
	case FifoRRepeat:
		repeat := rt.Memory.Allocate(fifo.VirtualAddress, fifo.Size, fifo.Count)
		buffer, consumed := rt.readFifo(fifos, ix+1)
		if buffer != nil {
			for offset := uint64(0); offset < fifo.Size; offset += uint64(len(buffer)) {
				copy(repeat[offset:], buffer)
			}
		}
		return repeat, 1 + consumed
	default:
		if fifo.Size == 0 {
			return nil, 1
		}
		data := rt.Memory.Read(fifo.VirtualAddress, fifo.Count)
		if data == nil {
			return nil, 1
		}
		return slice(data, fifo.Offset, fifo.Size), 1
	}
}

// allocOutputBuffers returns one writable buffer per output fifo.
func (rt *Runtime) allocOutputBuffers(fifos []Fifo) [][]byte {
	result := make([][]byte, len(fifos))
	for ix, fifo := range fifos {
		switch fifo.Attribute {
		case FifoDummy:
		case FifoRWExt:
			data := rt.Memory.External(fifo.VirtualAddress)
			if data != nil && fifo.Size > 0 {
				result[ix] = slice(data, fifo.Offset, fifo.Size)
			}
		case FifoRWOnly:
			data := rt.Memory.Allocate(fifo.VirtualAddress, fifo.Offset+fifo.Size, fifo.Count)
			result[ix] = slice(data, fifo.Offset, fifo.Size)
		default:
			data := rt.Memory.Allocate(fifo.VirtualAddress, fifo.Offset+fifo.Size, fifo.Count)
			result[ix] = slice(data, fifo.Offset, fifo.Size)
		}
	}
	return result
}

func slice(data []byte, offset, size uint64) []byte {
	if offset >= uint64(len(data)) {
		return nil
	}
	end := offset + size
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end]
}
