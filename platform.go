package spider2

// file platform.go holds the hardware platform model: clusters of processing
// elements sharing a memory unit, communication cost routines, and the
// per-vertex runtime information (mapping constraints and timings) the
// mapper consults.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// PEType tells whether a processing element hosts a local runtime worker.
type PEType int

const (
	// PELRT hosts an LRT worker thread and can receive jobs.
	PELRT PEType = iota
	// PEOnly is schedulable hardware driven by another PE, with no worker.
	PEOnly
)

// CommCostRoutine prices a transfer of size bytes.
type CommCostRoutine func(size uint64) uint64

// ClusterCostRoutine prices a transfer of size bytes between two clusters.
type ClusterCostRoutine func(from, to int, size uint64) uint64

// A MemoryUnit is the addressable storage shared by the PEs of one cluster.
type MemoryUnit struct {
	Base uint64
	Size uint64
}

// A PE is one processing element.
type PE struct {
	HwType  string
	HwIx    int
	VirtIx  int // dense index across the whole platform
	Name    string
	Type    PEType
	Cluster *Cluster
	Enabled bool

	// LRTIx is the index of the LRT worker bound to this PE, -1 for
	// PEOnly elements.
	LRTIx int
}

// A Cluster groups PEs around a memory unit.  Intra-cluster communication is
// free; inter-cluster transfers are priced by the platform cost routine and
// realized by explicit send/receive tasks.
type Cluster struct {
	Ix        int
	PEs       []*PE
	Memory    *MemoryUnit
	ReadCost  CommCostRoutine
	WriteCost CommCostRoutine
}

// A Platform is the full hardware description.
type Platform struct {
	Clusters []*Cluster
	PEs      []*PE // flat view indexed by VirtIx

	GrtPE *PE

	ClusterCost ClusterCostRoutine

	lrtCount int
}

// CreatePlatform is a constructor.  clusterCount is a capacity hint.
func CreatePlatform(clusterCount int) *Platform {
	pf := new(Platform)
	pf.Clusters = make([]*Cluster, 0, clusterCount)
	pf.ClusterCost = func(from, to int, size uint64) uint64 {
		if from == to {
			return 0
		}
		return size
	}
	return pf
}

// CreateCluster adds a cluster backed by the given memory unit.
func (pf *Platform) CreateCluster(peCount int, mem *MemoryUnit) *Cluster {
	cl := new(Cluster)
	cl.Ix = len(pf.Clusters)
	cl.PEs = make([]*PE, 0, peCount)
	cl.Memory = mem
	cl.ReadCost = func(size uint64) uint64 { return size }
	cl.WriteCost = func(size uint64) uint64 { return size }
	pf.Clusters = append(pf.Clusters, cl)
	return cl
}

// CreatePE adds a processing element to a cluster.
func (pf *Platform) CreatePE(hwType string, hwIx int, cluster *Cluster, name string, peType PEType) *PE {
	pe := new(PE)
	pe.HwType = hwType
	pe.HwIx = hwIx
	pe.VirtIx = len(pf.PEs)
	pe.Name = name
	pe.Type = peType
	pe.Cluster = cluster
	pe.Enabled = true
	pe.LRTIx = -1
	if peType == PELRT {
		pe.LRTIx = pf.lrtCount
		pf.lrtCount++
	}
	cluster.PEs = append(cluster.PEs, pe)
	pf.PEs = append(pf.PEs, pe)
	return pe
}

// PECount returns the number of processing elements on the platform.
func (pf *Platform) PECount() int {
	return len(pf.PEs)
}

// LRTCount returns the number of LRT workers the platform hosts.
func (pf *Platform) LRTCount() int {
	return pf.lrtCount
}

// SetGrtPE nominates the PE whose thread doubles as the global runtime.
func (pf *Platform) SetGrtPE(pe *PE) error {
	if pe.Type != PELRT {
		return fmt.Errorf("PE %s cannot host the global runtime, it has no LRT", pe.Name)
	}
	pf.GrtPE = pe
	return nil
}

// EnablePE and DisablePE toggle a PE's availability to the mapper.
func (pf *Platform) EnablePE(pe *PE)  { pe.Enabled = true }
func (pf *Platform) DisablePE(pe *PE) { pe.Enabled = false }

// SetClusterCostRoutine installs the cluster-to-cluster pricing routine.
func (pf *Platform) SetClusterCostRoutine(fn ClusterCostRoutine) {
	pf.ClusterCost = fn
}

// RTInfo carries the runtime information of one vertex: on which PEs its
// kernel may run and how long it takes there.  Timings are expressions keyed
// by hardware type, so one entry covers every PE of that type.
type RTInfo struct {
	mappable []int // VirtIx values, empty meaning "everywhere"
	timings  map[string]*Expression
}

func createRTInfo() *RTInfo {
	ri := new(RTInfo)
	ri.timings = make(map[string]*Expression)
	return ri
}

// SetMappableOnPE restricts the vertex to the listed PEs.  Calling it at
// least once switches from "mappable everywhere" to an explicit allow list.
func (ri *RTInfo) SetMappableOnPE(pe *PE) {
	if !slices.Contains(ri.mappable, pe.VirtIx) {
		ri.mappable = append(ri.mappable, pe.VirtIx)
	}
}

// IsMappableOnPE checks a PE against the constraint set.
func (ri *RTInfo) IsMappableOnPE(pe *PE) bool {
	if !pe.Enabled {
		return false
	}
	if len(ri.mappable) == 0 {
		return true
	}
	return slices.Contains(ri.mappable, pe.VirtIx)
}

// SetTimingOnHWType installs a timing expression for every PE of a hardware
// type.  The empty string keys the default timing.
func (ri *RTInfo) SetTimingOnHWType(hwType string, expr *Expression) {
	ri.timings[hwType] = expr
}

// Timing evaluates the vertex execution time on a PE.  Falls back to the
// default entry, then to a unit timing.
func (ri *RTInfo) Timing(pe *PE, params []*Param) uint64 {
	expr, present := ri.timings[pe.HwType]
	if !present {
		expr, present = ri.timings[""]
	}
	if !present {
		return 1
	}
	value := expr.Evaluate(params)
	if value < 0 {
		return 0
	}
	return uint64(value)
}
