package spider2

// file fifo.go materializes edge storage.  The allocator turns dependency
// information into Fifo descriptors carried by job messages; the memory
// interface maps virtual addresses to buffers and tracks consumer reference
// counts so storage is reclaimed exactly when the last reader has run.

import (
	"fmt"
	"sync"
)

// FifoAttribute selects how a Fifo descriptor is interpreted by the memory
// interface.
type FifoAttribute uint8

const (
	// FifoRWOwn is a freshly allocated buffer owned by its producer.
	FifoRWOwn FifoAttribute = iota
	// FifoRWOnly aliases an existing allocation read/write without owning it.
	FifoRWOnly
	// FifoRWExt addresses a user-provided external buffer.
	FifoRWExt
	// FifoRMerge concatenates the sub-fifos that follow it in the task's
	// fifo list; Offset holds the sub-fifo count.
	FifoRMerge
	// FifoRRepeat tiles a smaller source buffer up to the consumer size.
	FifoRRepeat
	// FifoDummy stands in for a zero-size dependency so port indexing
	// stays dense.
	FifoDummy
)

// A Fifo locates one typed buffer: a virtual address into the runtime memory
// namespace, a size, a byte offset from the allocation base, and the number
// of consumers that will read it before it can be reclaimed.
type Fifo struct {
	VirtualAddress uint64
	Size           uint64
	Offset         uint64
	Count          uint32
	Attribute      FifoAttribute
}

// An AllocationRule describes how one input or output port obtains its
// storage, before it is turned into a Fifo.
type AllocationRule struct {
	Size      uint64
	Offset    uint64
	FifoIx    int // producer output port, or sub-rule source index
	Count     uint32
	Attribute FifoAttribute
}

// A FifoAllocator hands out virtual addresses and owns the persistent delay
// reservations.  Addresses are a monotone 64-bit counter; address 0 is never
// allocated.
type FifoAllocator struct {
	nextAddress    uint64
	reservedMemory uint64

	// persistent delay storage, keyed by delay, survives Clear
	persistent map[*Delay]Fifo

	external map[uint64]Fifo

	// owners maps an owned allocation back to the task output fifo that
	// created it, so aliasing vertices can transfer their read onto their
	// own consumers.
	owners map[uint64]ownerRef
}

type ownerRef struct {
	task *Task
	port int
}

// CreateFifoAllocator is a constructor.
func CreateFifoAllocator() *FifoAllocator {
	fa := new(FifoAllocator)
	fa.nextAddress = 1
	fa.persistent = make(map[*Delay]Fifo)
	fa.external = make(map[uint64]Fifo)
	fa.owners = make(map[uint64]ownerRef)
	return fa
}

// bumpOwner shifts the expected read count of an owned allocation.  Aliasing
// vertices burn no read themselves and hand their read over to their own
// consumers.
func (fa *FifoAllocator) bumpOwner(addr uint64, delta int64) {
	owner, present := fa.owners[addr]
	if !present {
		return
	}
	count := int64(owner.task.OutputFifos[owner.port].Count) + delta
	if count < 0 {
		count = 0
	}
	owner.task.OutputFifos[owner.port].Count = uint32(count)
}

// Clear resets the address counter for the next scheduling pass.  Persistent
// reservations keep their addresses.
func (fa *FifoAllocator) Clear() {
	fa.nextAddress = fa.reservedMemory + 1
}

// NewAddress hands out a fresh virtual address.
func (fa *FifoAllocator) NewAddress() uint64 {
	addr := fa.nextAddress
	fa.nextAddress++
	return addr
}

// AllocatePersistentDelays walks every persistent delay of the graph and its
// subgraphs and reserves a non-reclaimable region per delay.  Idempotent:
// already-reserved delays keep their address.
func (fa *FifoAllocator) AllocatePersistentDelays(g *Graph) {
	for _, d := range g.Delays {
		if !d.Persistent {
			continue
		}
		if _, present := fa.persistent[d]; present {
			continue
		}
		fifo := Fifo{
			VirtualAddress: fa.NewAddress(),
			Size:           uint64(d.Value),
			Attribute:      FifoRWOwn,
		}
		fa.persistent[d] = fifo
		fa.reservedMemory = fa.nextAddress - 1
	}
	for _, sub := range g.Subgraphs {
		fa.AllocatePersistentDelays(sub.Subgraph)
	}
}

// PersistentFifo returns the reserved region of a persistent delay.
func (fa *FifoAllocator) PersistentFifo(d *Delay) (Fifo, bool) {
	fifo, present := fa.persistent[d]
	return fifo, present
}

// PersistentRegions lists every reserved region.
func (fa *FifoAllocator) PersistentRegions() []Fifo {
	result := make([]Fifo, 0, len(fa.persistent))
	for _, fifo := range fa.persistent {
		result = append(result, fifo)
	}
	return result
}

// PersistentLimit returns the highest reserved virtual address.
func (fa *FifoAllocator) PersistentLimit() uint64 {
	return fa.reservedMemory
}

// RegisterExternalBuffer binds an external buffer index to a fifo of the
// given size.  External buffers are never freed by the runtime.
func (fa *FifoAllocator) RegisterExternalBuffer(bufferIx uint64, size uint64) {
	fa.external[bufferIx] = Fifo{VirtualAddress: bufferIx, Size: size, Attribute: FifoRWExt}
}

// Allocate attaches input and output fifos to a mapped task.  Input fifos
// derive from the task's dependency intervals; output fifos follow the
// vertex subtype.
func (fa *FifoAllocator) Allocate(t *Task, schedule *Schedule) (err error) {
	defer catchEvalError(&err)
	switch t.Kind {
	case TaskSend, TaskReceive:
		return fa.allocateSyncTask(t)
	}
	if err := fa.allocateInputs(t, schedule); err != nil {
		return err
	}
	return fa.allocateOutputs(t)
}

// allocateSyncTask aliases the data being moved: the send side reads the
// producer's output, the receive side owns a fresh buffer in its cluster.
func (fa *FifoAllocator) allocateSyncTask(t *Task) error {
	if t.Kind == TaskSend {
		if len(t.Deps) != 1 {
			return fmt.Errorf("send task %s has %d producers, want 1", t.Name(), len(t.Deps))
		}
		producer := t.Deps[0]
		var src Fifo
		if len(producer.OutputFifos) > 0 {
			src = producer.OutputFifos[0]
			src.Attribute = FifoRWOnly
		} else {
			src = Fifo{VirtualAddress: fa.NewAddress(), Size: t.Size, Attribute: FifoRWOnly}
		}
		// the send only peeks: the consumer still owns the read
		src.Count = 0
		t.InputFifos = []Fifo{src}
		t.OutputFifos = []Fifo{src}
		return nil
	}
	fresh := Fifo{VirtualAddress: fa.NewAddress(), Size: t.Size, Count: 1, Attribute: FifoRWOwn}
	if t.Sibling != nil {
		t.InputFifos = append([]Fifo(nil), t.Sibling.OutputFifos...)
	}
	t.OutputFifos = []Fifo{fresh}
	return nil
}

// deriveInputRule classifies one input port's dependency intervals: no
// interval yields a dummy rule, a single-firing interval a shared-producer
// rule, anything else a merge rule whose Offset carries the sub count.
func deriveInputRule(deps []DependencyInfo) AllocationRule {
	switch {
	case len(deps) == 0:
		return AllocationRule{Attribute: FifoDummy}
	case len(deps) == 1 && deps[0].FiringStart == deps[0].FiringEnd:
		return AllocationRule{
			Size:      uint64(deps[0].Size()),
			FifoIx:    int(deps[0].EdgeIx),
			Count:     1,
			Attribute: FifoRWOnly,
		}
	default:
		subCount := uint64(0)
		for _, dep := range deps {
			subCount += uint64(dep.FiringEnd-dep.FiringStart) + 1
		}
		return AllocationRule{
			Size:      uint64(totalBytes(deps)),
			Offset:    subCount,
			Count:     1,
			Attribute: FifoRMerge,
		}
	}
}

// allocateInputs translates each input port's dependency intervals into an
// allocation rule, then into fifos: a dummy, a producer alias, or a merged
// fifo followed by its sub-fifos.
func (fa *FifoAllocator) allocateInputs(t *Task, schedule *Schedule) error {
	t.InputFifos = t.InputFifos[:0]
	for port, deps := range t.InputDeps {
		rule := deriveInputRule(deps)
		switch rule.Attribute {
		case FifoDummy:
			t.InputFifos = append(t.InputFifos, Fifo{Attribute: FifoDummy})
		case FifoRWOnly:
			fifo, err := fa.inputFifoForInterval(t, deps[0], schedule)
			if err != nil {
				return fmt.Errorf("task %s input %d: %w", t.Name(), port, err)
			}
			fifo.Count = rule.Count
			t.InputFifos = append(t.InputFifos, fifo)
		default:
			merged := Fifo{
				VirtualAddress: fa.NewAddress(),
				Size:           rule.Size,
				Offset:         rule.Offset,
				Count:          rule.Count,
				Attribute:      FifoRMerge,
			}
			t.InputFifos = append(t.InputFifos, merged)
			for _, dep := range deps {
				for firing := dep.FiringStart; firing <= dep.FiringEnd; firing++ {
					sub, err := fa.inputFifoForFiring(t, dep, firing, schedule)
					if err != nil {
						return fmt.Errorf("task %s input %d: %w", t.Name(), port, err)
					}
					t.InputFifos = append(t.InputFifos, sub)
				}
			}
		}
	}
	return nil
}

func totalBytes(deps []DependencyInfo) int64 {
	total := int64(0)
	for _, dep := range deps {
		total += dep.Size()
	}
	return total
}

// inputFifoForInterval aliases a single-firing interval of a producer.
func (fa *FifoAllocator) inputFifoForInterval(t *Task, dep DependencyInfo, schedule *Schedule) (Fifo, error) {
	return fa.inputFifoForFiring(t, dep, dep.FiringStart, schedule)
}

// inputFifoForFiring builds the alias fifo for one producer firing of an
// interval.
func (fa *FifoAllocator) inputFifoForFiring(t *Task, dep DependencyInfo, firing uint32, schedule *Schedule) (Fifo, error) {
	if dep.Delay != nil {
		reserved, present := fa.persistent[dep.Delay]
		if !present {
			return Fifo{}, fmt.Errorf("delay storage read before reservation")
		}
		fifo := reserved
		fifo.Offset = uint64(dep.MemoryStart)
		fifo.Size = uint64(dep.MemoryEnd - dep.MemoryStart + 1)
		fifo.Attribute = FifoRWOnly
		fifo.Count = 1
		return fifo, nil
	}
	producerTask := schedule.Task(dep.Firing.TaskIx(dep.Vertex, firing))
	if producerTask == nil {
		return Fifo{}, fmt.Errorf("producer %s:%d not scheduled", dep.Vertex.Name, firing)
	}
	if int(dep.EdgeIx) >= len(producerTask.OutputFifos) {
		return Fifo{}, fmt.Errorf("producer %s:%d has no output fifo %d", dep.Vertex.Name, firing, dep.EdgeIx)
	}
	src := producerTask.OutputFifos[dep.EdgeIx]
	start := int64(0)
	if firing == dep.FiringStart {
		start = dep.MemoryStart
	}
	end := dep.Rate - 1
	if firing == dep.FiringEnd {
		end = dep.MemoryEnd
	}
	fifo := src
	fifo.Offset += uint64(start)
	fifo.Size = uint64(end - start + 1)
	fifo.Attribute = FifoRWOnly
	fifo.Count = 1
	return fifo, nil
}

// allocateOutputs builds the output fifos per vertex subtype.  Fork carves
// offsets out of the input, Duplicate aliases it, Repeat aliases when rates
// match and tiles otherwise, extern vertices bind user buffers, everything
// else owns a fresh allocation sized by the evaluated rate.
func (fa *FifoAllocator) allocateOutputs(t *Task) error {
	v := t.Vertex
	params := t.Firing.Params
	t.OutputFifos = t.OutputFifos[:0]
	switch v.Type {
	case VertexFork:
		input := t.firstInputFifo()
		offset := input.Offset
		aliasReads := int64(0)
		for _, e := range v.OutEdges {
			size := uint64(e.SourceRate(params))
			fifo := input
			fifo.Offset = offset
			fifo.Size = size
			fifo.Attribute = FifoRWOnly
			fifo.Count = fa.consumerCount(t, e)
			aliasReads += int64(fifo.Count)
			offset += size
			t.OutputFifos = append(t.OutputFifos, fifo)
		}
		fa.transferAliasReads(t, input, aliasReads)
	case VertexDuplicate:
		input := t.firstInputFifo()
		aliasReads := int64(0)
		for _, e := range v.OutEdges {
			fifo := input
			fifo.Attribute = FifoRWOnly
			fifo.Count = fa.consumerCount(t, e)
			aliasReads += int64(fifo.Count)
			t.OutputFifos = append(t.OutputFifos, fifo)
		}
		fa.transferAliasReads(t, input, aliasReads)
	case VertexRepeat:
		input := t.firstInputFifo()
		e := v.OutputEdge(0)
		outSize := uint64(e.SourceRate(params))
		if outSize == input.Size {
			fifo := input
			fifo.Attribute = FifoRWOnly
			fifo.Count = fa.consumerCount(t, e)
			t.OutputFifos = append(t.OutputFifos, fifo)
			fa.transferAliasReads(t, input, int64(fifo.Count))
		} else {
			t.OutputFifos = append(t.OutputFifos, Fifo{
				VirtualAddress: fa.NewAddress(),
				Size:           outSize,
				Count:          fa.consumerCount(t, e),
				Attribute:      FifoRRepeat,
			})
		}
	case VertexExternIn:
		e := v.OutputEdge(0)
		external, present := fa.external[uint64(v.KernelIx)]
		if !present {
			return fmt.Errorf("extern-in vertex %s references unregistered buffer %d", v.Name, v.KernelIx)
		}
		external.Count = fa.consumerCount(t, e)
		t.OutputFifos = append(t.OutputFifos, external)
	default:
		for _, e := range v.OutEdges {
			size := uint64(e.SourceRate(params))
			attribute := FifoRWOwn
			if e.Delay != nil && e.Delay.Persistent {
				if fifo, ok := fa.persistentOutputFifo(t, e); ok {
					t.OutputFifos = append(t.OutputFifos, fifo)
					continue
				}
			}
			if e.Sink.Type == VertexExternOut {
				external, present := fa.external[uint64(e.Sink.KernelIx)]
				if !present {
					return fmt.Errorf("extern-out vertex %s references unregistered buffer %d", e.Sink.Name, e.Sink.KernelIx)
				}
				fifo := external
				fifo.Size = size
				fifo.Count = 1
				t.OutputFifos = append(t.OutputFifos, fifo)
				continue
			}
			if size == 0 {
				t.OutputFifos = append(t.OutputFifos, Fifo{Attribute: FifoDummy})
				continue
			}
			fifo := Fifo{
				VirtualAddress: fa.NewAddress(),
				Size:           size,
				Count:          fa.consumerCount(t, e),
				Attribute:      attribute,
			}
			t.OutputFifos = append(t.OutputFifos, fifo)
			fa.owners[fifo.VirtualAddress] = ownerRef{task: t, port: len(t.OutputFifos) - 1}
		}
	}
	return nil
}

// transferAliasReads rewires the reference counting of an aliasing vertex:
// the vertex stops burning its own input read and the underlying allocation
// instead waits for the alias's consumers.
func (fa *FifoAllocator) transferAliasReads(t *Task, input Fifo, aliasReads int64) {
	if len(t.InputFifos) == 0 || input.Attribute == FifoDummy {
		return
	}
	t.InputFifos[0].Count = 0
	fa.bumpOwner(input.VirtualAddress, aliasReads-1)
}

// persistentOutputFifo maps a firing's production onto the reserved region
// of a persistent delay when the whole window wraps into the next iteration.
// Partially-stored windows fall back to an owned buffer.
func (fa *FifoAllocator) persistentOutputFifo(t *Task, e *Edge) (Fifo, bool) {
	srcRate := e.SourceRate(t.Firing.Params)
	if srcRate <= 0 {
		return Fifo{}, false
	}
	lower := srcRate * int64(t.FiringIx)
	upper := srcRate*int64(t.FiringIx+1) - 1
	deps := ComputeConsDependency(e, lower, upper, t.Firing)
	if len(deps) != 1 || deps[0].Delay != e.Delay {
		return Fifo{}, false
	}
	reserved, present := fa.persistent[e.Delay]
	if !present {
		return Fifo{}, false
	}
	fifo := reserved
	fifo.Offset = uint64(deps[0].MemoryStart)
	fifo.Size = uint64(srcRate)
	fifo.Attribute = FifoRWOnly
	fifo.Count = 0
	return fifo, true
}

// consumerCount counts the consumer firings that will read an output edge of
// the task's firing, which seeds the fifo's reference count.
func (fa *FifoAllocator) consumerCount(t *Task, e *Edge) uint32 {
	srcRate := e.SourceRate(t.Firing.Params)
	if srcRate == 0 {
		return 0
	}
	lower := srcRate * int64(t.FiringIx)
	upper := srcRate*int64(t.FiringIx+1) - 1
	deps := ComputeConsDependency(e, lower, upper, t.Firing)
	count := uint32(0)
	for _, dep := range deps {
		if dep.Unresolved() {
			continue
		}
		if dep.Delay != nil {
			count++
			continue
		}
		count += dep.FiringEnd - dep.FiringStart + 1
	}
	if count == 0 {
		count = 1
	}
	return count
}

func (t *Task) firstInputFifo() Fifo {
	if len(t.InputFifos) == 0 {
		return Fifo{Attribute: FifoDummy}
	}
	return t.InputFifos[0]
}

// A MemoryInterface maps virtual addresses to byte buffers and tracks the
// remaining reader count of each allocation.  The global runtime and the
// LRT workers share one instance; access is serialized by a mutex since
// buffers are handed over, not shared, between tasks.
type MemoryInterface struct {
	mu      sync.Mutex
	buffers map[uint64]*memoryBuffer

	externalBuffers map[uint64][]byte

	// addresses at or below this watermark are persistent delay storage
	// and are never reclaimed by reads
	persistentLimit uint64
}

// SetPersistentLimit installs the persistent address watermark.
func (mi *MemoryInterface) SetPersistentLimit(limit uint64) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.persistentLimit = limit
}

type memoryBuffer struct {
	data  []byte
	count uint32
}

// CreateMemoryInterface is a constructor.
func CreateMemoryInterface() *MemoryInterface {
	mi := new(MemoryInterface)
	mi.buffers = make(map[uint64]*memoryBuffer)
	mi.externalBuffers = make(map[uint64][]byte)
	return mi
}

// RegisterExternalBuffer installs a user-provided buffer under an index.
func (mi *MemoryInterface) RegisterExternalBuffer(ix uint64, data []byte) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.externalBuffers[ix] = data
}

// Allocate returns the buffer at addr, creating it with the given size and
// reader count on first touch.
func (mi *MemoryInterface) Allocate(addr uint64, size uint64, count uint32) []byte {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	buf, present := mi.buffers[addr]
	if !present {
		buf = &memoryBuffer{data: make([]byte, size), count: count}
		mi.buffers[addr] = buf
	}
	return buf.data
}

// Read returns the buffer at addr and burns the given number of reads; the
// buffer is reclaimed when its count reaches zero.
func (mi *MemoryInterface) Read(addr uint64, reads uint32) []byte {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	buf, present := mi.buffers[addr]
	if !present {
		return nil
	}
	data := buf.data
	if addr > mi.persistentLimit {
		if reads >= buf.count {
			delete(mi.buffers, addr)
		} else {
			buf.count -= reads
		}
	}
	return data
}

// External returns a registered external buffer.
func (mi *MemoryInterface) External(ix uint64) []byte {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.externalBuffers[ix]
}

// Release drops every non-external buffer, keeping addresses at or below
// the persistent watermark.
func (mi *MemoryInterface) Release(persistentLimit uint64) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for addr := range mi.buffers {
		if addr > persistentLimit {
			delete(mi.buffers, addr)
		}
	}
}
