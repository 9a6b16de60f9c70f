package spider2

// file mapper.go places a ready task onto a processing element.  Every
// compatible PE of every cluster is scored; the best fit minimizes the sum
// of earliest start, execution time on the PE, and the communication cost of
// pulling producer data across cluster boundaries.  When the chosen PE sits
// in a different cluster than a producer, an explicit send/receive task pair
// is inserted between them.

import (
	"fmt"
)

// A Mapper binds tasks to PEs within one schedule.
type Mapper struct {
	Platform *Platform
	Schedule *Schedule
}

// CreateMapper is a constructor.
func CreateMapper(platform *Platform, schedule *Schedule) *Mapper {
	mp := new(Mapper)
	mp.Platform = platform
	mp.Schedule = schedule
	return mp
}

type mappingResult struct {
	pe        *PE
	startTime uint64
	endTime   uint64
	cost      uint64
	needComm  bool
}

// Map chooses a PE for t, inserts sync pairs for foreign-cluster producers,
// updates constraint and notification vectors, and commits the mapping into
// the schedule.
func (mp *Mapper) Map(t *Task) error {
	minStartTime := t.ReadyTime()
	best := mappingResult{cost: ^uint64(0)}
	for _, cluster := range mp.Platform.Clusters {
		commCost, foreignBytes := mp.communicationCost(t, cluster)
		for _, pe := range cluster.PEs {
			if !t.IsMappableOnPE(pe) {
				continue
			}
			start := maxu64(minStartTime, mp.Schedule.Stats.EndTime(pe.VirtIx))
			timing := t.TimingOnPE(pe)
			end := start + timing
			cost := start + timing + commCost
			if cost < best.cost {
				best = mappingResult{pe: pe, startTime: start, endTime: end, cost: cost, needComm: foreignBytes > 0}
			}
		}
	}
	if best.pe == nil {
		return fmt.Errorf("task %s has no mappable PE", t.Name())
	}
	if best.needComm {
		mp.mapCommunications(t, best.pe.Cluster)
		// sync insertion can push the ready time; recompute placement on
		// the chosen PE
		minStartTime = t.ReadyTime()
		best.startTime = maxu64(minStartTime, mp.Schedule.Stats.EndTime(best.pe.VirtIx))
		best.endTime = best.startTime + t.TimingOnPE(best.pe)
	}
	mp.Schedule.AddTask(t)
	mp.Schedule.UpdateTaskAndSetReady(t, best.pe, best.startTime, best.endTime)
	mp.updateConstraints(t)
	return nil
}

// communicationCost sums, over producers mapped on foreign clusters, the
// platform's cluster-to-cluster price of the bytes they feed t.  The second
// return is the total foreign byte count.
func (mp *Mapper) communicationCost(t *Task, cluster *Cluster) (uint64, uint64) {
	cost := uint64(0)
	size := uint64(0)
	for _, dep := range t.Deps {
		if dep == nil || dep.MappedPE == nil {
			continue
		}
		producerCluster := dep.MappedPE.Cluster
		if producerCluster == cluster {
			continue
		}
		bytes := mp.dependencyBytes(t, dep)
		cost += mp.Platform.ClusterCost(producerCluster.Ix, cluster.Ix, bytes)
		size += bytes
	}
	return cost, size
}

// dependencyBytes estimates the bytes flowing from one producer into t.
func (mp *Mapper) dependencyBytes(t *Task, producer *Task) uint64 {
	if t.Kind != TaskFiring || producer.Kind != TaskFiring {
		return producer.Size
	}
	total := uint64(0)
	for _, deps := range t.InputDeps {
		for _, dep := range deps {
			if dep.Vertex == producer.Vertex && dep.Firing == producer.Firing &&
				producer.FiringIx >= dep.FiringStart && producer.FiringIx <= dep.FiringEnd {
				total += uint64(intervalBytes(dep, producer.FiringIx))
			}
		}
	}
	return total
}

// intervalBytes returns the bytes one producer firing contributes to an
// interval.
func intervalBytes(dep DependencyInfo, firing uint32) int64 {
	if dep.FiringStart == dep.FiringEnd {
		return dep.MemoryEnd - dep.MemoryStart + 1
	}
	switch firing {
	case dep.FiringStart:
		return dep.Rate - dep.MemoryStart
	case dep.FiringEnd:
		return dep.MemoryEnd + 1
	default:
		return dep.Rate
	}
}

// mapCommunications inserts a send/receive pair between every producer on a
// foreign cluster and t, rewiring t's dependency on that producer through
// the receive task.
func (mp *Mapper) mapCommunications(t *Task, cluster *Cluster) {
	lrtCount := mp.Platform.LRTCount()
	for ix, dep := range t.Deps {
		if dep == nil || dep.MappedPE == nil || dep.MappedPE.Cluster == cluster {
			continue
		}
		producerCluster := dep.MappedPE.Cluster
		bytes := mp.dependencyBytes(t, dep)

		send := CreateSyncTask(TaskSend, producerCluster, cluster, bytes, lrtCount)
		receive := CreateSyncTask(TaskReceive, producerCluster, cluster, bytes, lrtCount)
		send.Sibling = receive
		receive.Sibling = send
		send.AddDep(dep)
		receive.AddDep(send)

		mp.insertSyncTask(send)
		mp.insertSyncTask(receive)

		t.Deps[ix] = receive
	}
}

// insertSyncTask best-fit maps a sync task within its pinned cluster.
func (mp *Mapper) insertSyncTask(t *Task) {
	minStartTime := t.ReadyTime()
	best := mappingResult{cost: ^uint64(0)}
	for _, pe := range mp.Platform.PEs {
		if !t.IsMappableOnPE(pe) {
			continue
		}
		start := maxu64(minStartTime, mp.Schedule.Stats.EndTime(pe.VirtIx))
		timing := t.TimingOnPE(pe)
		end := start + timing
		if end < best.cost {
			best = mappingResult{pe: pe, startTime: start, endTime: end, cost: end}
		}
	}
	if best.pe == nil {
		panic(fmt.Errorf("sync task %s has no PE in its cluster", t.Name()))
	}
	mp.Schedule.AddTask(t)
	mp.Schedule.UpdateTaskAndSetReady(t, best.pe, best.startTime, best.endTime)
	mp.updateConstraints(t)
}

// updateConstraints folds t's producers into its per-LRT constraint vector
// and raises the producers' notification flags toward t's LRT.
func (mp *Mapper) updateConstraints(t *Task) {
	lrtIx := t.MappedPE.LRTIx
	if lrtIx < 0 {
		return
	}
	for _, dep := range t.Deps {
		if dep == nil || dep.MappedPE == nil {
			continue
		}
		depLrt := dep.MappedPE.LRTIx
		if depLrt < 0 || depLrt == lrtIx {
			continue
		}
		if t.ExecConstraints[depLrt] == noConstraint || dep.JobExecIx > t.ExecConstraints[depLrt] {
			t.ExecConstraints[depLrt] = dep.JobExecIx
		}
		dep.NotifyVec[lrtIx] = true
	}
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
