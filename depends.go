package spider2

// file depends.go enumerates, for a byte window on one side of an edge, the
// producer (or consumer) firing intervals that supply (or absorb) it.  The
// resolver descends through delays and their setter/getter edges, ascends
// through graph interfaces, and descends into subgraph firings.  Windows are
// inclusive byte ranges; all divisions floor toward negative infinity.

import (
	"fmt"
)

// A DependencyInfo describes one contiguous interval of producer or consumer
// firings touching a window.  When Delay is set the window lands in delay
// storage (a delay with no setter/getter endpoint); when Vertex and Delay
// are both nil the record is the unresolved sentinel.
type DependencyInfo struct {
	Vertex *Vertex
	Firing *GraphFiring
	Delay  *Delay
	Rate   int64
	EdgeIx uint32

	MemoryStart int64
	MemoryEnd   int64
	FiringStart uint32
	FiringEnd   uint32
}

// Unresolved reports whether the record marks a dependency into a subgraph
// firing whose parameters are still unknown.
func (d DependencyInfo) Unresolved() bool {
	return d.Vertex == nil && d.Delay == nil && d.Rate < 0
}

var unresolvedDependency = DependencyInfo{Rate: -1}

// Size returns the byte count of the interval.
func (d DependencyInfo) Size() int64 {
	if d.FiringStart == d.FiringEnd {
		return d.MemoryEnd - d.MemoryStart + 1
	}
	full := int64(d.FiringEnd-d.FiringStart-1) * d.Rate
	return (d.Rate - d.MemoryStart) + full + d.MemoryEnd + 1
}

func createExecDependency(e *Edge, lowerCons, upperCons, srcRate, delayValue int64, gf *GraphFiring) DependencyInfo {
	return DependencyInfo{
		Vertex:      e.Source,
		Firing:      gf,
		Rate:        srcRate,
		EdgeIx:      uint32(e.SrcPort),
		MemoryStart: (lowerCons - delayValue) % srcRate,
		MemoryEnd:   (upperCons - delayValue) % srcRate,
		FiringStart: uint32(floorDiv(lowerCons-delayValue, srcRate)),
		FiringEnd:   uint32(floorDiv(upperCons-delayValue, srcRate)),
	}
}

func createConsDependency(e *Edge, lowerProd, upperProd, snkRate, delayValue int64, gf *GraphFiring) DependencyInfo {
	return DependencyInfo{
		Vertex:      e.Sink,
		Firing:      gf,
		Rate:        snkRate,
		EdgeIx:      uint32(e.SnkPort),
		MemoryStart: (lowerProd + delayValue) % snkRate,
		MemoryEnd:   (upperProd + delayValue) % snkRate,
		FiringStart: uint32(floorDiv(lowerProd+delayValue, snkRate)),
		FiringEnd:   uint32(floorDiv(upperProd+delayValue, snkRate)),
	}
}

func delayStorageDependency(d *Delay, lower, upper int64, gf *GraphFiring) DependencyInfo {
	return DependencyInfo{
		Delay:       d,
		Firing:      gf,
		Rate:        d.Value,
		MemoryStart: lower,
		MemoryEnd:   upper,
	}
}

/* === Execution (producer-side) dependencies === */

// ComputeExecDependency enumerates the producers of the byte window
// [lowerCons, upperCons] on the sink side of e, within firing gf.  An empty
// window yields an empty list.
func ComputeExecDependency(e *Edge, lowerCons, upperCons int64, gf *GraphFiring) []DependencyInfo {
	if lowerCons > upperCons {
		return nil
	}
	switch e.Source.Type {
	case VertexInput:
		return computeInputExecDependency(e, lowerCons, upperCons, gf)
	case VertexDelay:
		// getter side: translate the window past the tokens the real
		// sink consumes, then resolve on the delayed edge
		delay := e.Source.DelayRef
		delayEdge := delay.Edge
		snkRate := delayEdge.SinkRate(gf.Params)
		if delayEdge.Sink.Type == VertexOutput {
			srcRate := delayEdge.SourceRate(gf.Params)
			totSrcRate := srcRate * int64(gf.RV(delayEdge.Source))
			offset := totSrcRate - snkRate
			return ComputeExecDependency(delayEdge, lowerCons+offset, upperCons+offset, gf)
		}
		offset := snkRate * int64(gf.RV(delayEdge.Sink))
		return ComputeExecDependency(delayEdge, lowerCons+offset, upperCons+offset, gf)
	case VertexGraph:
		return computeGraphExecDependency(e, lowerCons, upperCons, gf)
	default:
		srcRate := e.SourceRate(gf.Params)
		return computeExecDependencyImpl(e, lowerCons, upperCons, srcRate, gf)
	}
}

// computeExecDependencyImpl splits the window across the delay boundary.
// Tokens below the delay value come from the setter (or the delay storage
// when the delay has none); tokens at or above it come from the source.
func computeExecDependencyImpl(e *Edge, lowerCons, upperCons, srcRate int64, gf *GraphFiring) []DependencyInfo {
	delay := e.Delay
	delayValue := e.DelayValue()
	if lowerCons >= delayValue {
		// source only; with no delay this branch is always taken since
		// windows are non-negative
		if srcRate <= 0 {
			return nil
		}
		return []DependencyInfo{createExecDependency(e, lowerCons, upperCons, srcRate, delayValue, gf)}
	}
	if upperCons < delayValue {
		// setter only
		if setterEdge := delay.SetterEdge(); setterEdge != nil {
			return ComputeExecDependency(setterEdge, lowerCons, upperCons, gf)
		}
		return []DependencyInfo{delayStorageDependency(delay, lowerCons, upperCons, gf)}
	}
	// split: setter interval precedes source interval
	var result []DependencyInfo
	if setterEdge := delay.SetterEdge(); setterEdge != nil {
		result = append(result, ComputeExecDependency(setterEdge, lowerCons, delayValue-1, gf)...)
	} else {
		result = append(result, delayStorageDependency(delay, lowerCons, delayValue-1, gf))
	}
	result = append(result, ComputeExecDependency(e, delayValue, upperCons, gf)...)
	return result
}

// computeInputExecDependency maps intervals landing on an input interface to
// the corresponding window of the parent graph's edge, one parent lookup per
// interface firing.
func computeInputExecDependency(e *Edge, lowerCons, upperCons int64, gf *GraphFiring) []DependencyInfo {
	source := e.Source
	delayValue := e.DelayValue()
	srcRate := e.SourceRate(gf.Params)
	deps := computeExecDependencyImpl(e, lowerCons, upperCons, srcRate, gf)
	var result []DependencyInfo
	for _, dep := range deps {
		if dep.Vertex != source {
			result = append(result, dep)
			continue
		}
		parent := gf.Handler.Parent
		if parent == nil {
			panic(fmt.Errorf("input interface %s reached in the top graph", source.Name))
		}
		parentLowerCons := srcRate * int64(gf.FiringIx)
		upperEdge := gf.Handler.Graph.Parent.InputEdge(source.Ix)
		for k := dep.FiringStart; k <= dep.FiringEnd; k++ {
			start := int64(0)
			if k == dep.FiringStart {
				start = (lowerCons - delayValue) % srcRate
			}
			end := srcRate - 1
			if k == dep.FiringEnd {
				end = (upperCons - delayValue) % srcRate
			}
			ifDeps := ComputeExecDependency(upperEdge, parentLowerCons+start, parentLowerCons+end, parent)
			result = append(result, ifDeps...)
		}
	}
	return result
}

// computeGraphExecDependency descends into a source subgraph: the window
// maps onto the inner edge of the subgraph's output interface, one child
// firing at a time.  Unresolved children yield the sentinel.
func computeGraphExecDependency(e *Edge, lowerCons, upperCons int64, gf *GraphFiring) []DependencyInfo {
	source := e.Source
	delayValue := e.DelayValue()
	srcRate := e.SourceRate(gf.Params)
	deps := computeExecDependencyImpl(e, lowerCons, upperCons, srcRate, gf)
	var result []DependencyInfo
	for _, dep := range deps {
		if dep.Vertex != source {
			result = append(result, dep)
			continue
		}
		for k := dep.FiringStart; k <= dep.FiringEnd; k++ {
			child := gf.ChildFiring(source, k)
			if child == nil || !child.Resolved() {
				result = append(result, unresolvedDependency)
				continue
			}
			innerEdge := source.Subgraph.OutputInterfaces[e.SrcPort].InputEdge(0)
			ifSrcRV := int64(child.RV(innerEdge.Source))
			ifSrcRate := innerEdge.SourceRate(child.Params)
			ifDelay := innerEdge.DelayValue()
			start := int64(0)
			if k == dep.FiringStart {
				start = (lowerCons - delayValue) % srcRate
			}
			end := srcRate - 1
			if k == dep.FiringEnd {
				end = (upperCons - delayValue) % srcRate
			}
			lCons := (ifSrcRV*ifSrcRate - srcRate) + start%srcRate + ifDelay
			uCons := (ifSrcRV*ifSrcRate - srcRate) + end%srcRate + ifDelay
			result = append(result, ComputeExecDependency(innerEdge, lCons, uCons, child)...)
		}
	}
	return result
}

/* === Consumption (consumer-side) dependencies === */

// ComputeConsDependency enumerates the consumers of the byte window
// [lowerProd, upperProd] on the source side of e, within firing gf.
func ComputeConsDependency(e *Edge, lowerProd, upperProd int64, gf *GraphFiring) []DependencyInfo {
	if lowerProd > upperProd {
		return nil
	}
	switch e.Sink.Type {
	case VertexOutput:
		return computeOutputConsDependency(e, lowerProd, upperProd, gf)
	case VertexDelay:
		// setter side: tokens written by the setter sit in front of the
		// delayed edge's own stream
		delay := e.Sink.DelayRef
		currentDelayValue := e.DelayValue()
		delayValue := delay.Value - currentDelayValue
		return ComputeConsDependency(delay.Edge, lowerProd-delayValue, upperProd-delayValue, gf)
	case VertexGraph:
		return computeGraphConsDependency(e, lowerProd, upperProd, gf)
	default:
		snkRate := e.SinkRate(gf.Params)
		if snkRate <= 0 {
			return nil
		}
		snkTotRate := snkRate * int64(gf.RV(e.Sink))
		return computeConsDependencyImpl(e, lowerProd, upperProd, snkRate, snkTotRate, gf)
	}
}

// computeConsDependencyImpl splits the window across the end-of-stream
// boundary: tokens past what the sink consumes flow into the getter (or stay
// in delay storage when the delay has no getter).
func computeConsDependencyImpl(e *Edge, lowerProd, upperProd, snkRate, snkTotRate int64, gf *GraphFiring) []DependencyInfo {
	delay := e.Delay
	delayValue := e.DelayValue()
	delayedSnkRate := snkTotRate - delayValue
	if delay != nil && lowerProd >= delayedSnkRate {
		// getter only
		if getterEdge := delay.GetterEdge(); getterEdge != nil {
			return ComputeConsDependency(getterEdge, lowerProd-delayedSnkRate, upperProd-delayedSnkRate, gf)
		}
		return []DependencyInfo{delayStorageDependency(delay, lowerProd-delayedSnkRate, upperProd-delayedSnkRate, gf)}
	}
	if upperProd < delayedSnkRate {
		// sink only; always taken when the edge carries no delay
		return []DependencyInfo{createConsDependency(e, lowerProd, upperProd, snkRate, delayValue, gf)}
	}
	// split: sink interval precedes getter interval
	result := ComputeConsDependency(e, lowerProd, snkTotRate-delayValue-1, gf)
	if getterEdge := delay.GetterEdge(); getterEdge != nil {
		result = append(result, ComputeConsDependency(getterEdge, 0, upperProd-delayedSnkRate, gf)...)
	} else {
		result = append(result, delayStorageDependency(delay, 0, upperProd-delayedSnkRate, gf))
	}
	return result
}

// computeOutputConsDependency maps a window reaching an output interface
// onto the parent graph's edge; only the tokens of the final inner
// iteration cross the interface, earlier ones die locally or feed a getter.
func computeOutputConsDependency(e *Edge, lowerProd, upperProd int64, gf *GraphFiring) []DependencyInfo {
	sink := e.Sink
	snkRate := e.SinkRate(gf.Params)
	srcRate := e.SourceRate(gf.Params)
	srcRV := int64(gf.RV(e.Source))
	delay := e.Delay
	delayValue := e.DelayValue()
	totalRate := srcRate*srcRV + delayValue

	// memory position on a virtual interface covering the whole stream
	dep := createConsDependency(e, lowerProd, upperProd, totalRate, delayValue, gf)

	minValidMemWDelay := srcRate*srcRV - snkRate
	minValidMemWODelay := minValidMemWDelay + delayValue
	parent := gf.Handler.Parent
	switch {
	case dep.MemoryEnd < minValidMemWDelay:
		// window dies inside the graph iteration
		return nil
	case dep.MemoryStart >= minValidMemWODelay || (delayValue == 0 && dep.MemoryEnd >= minValidMemWODelay):
		// forward through the interface
		if parent == nil {
			panic(fmt.Errorf("output interface %s reached in the top graph", sink.Name))
		}
		parentLowerProd := snkRate * int64(gf.FiringIx)
		lower := parentLowerProd + max64(0, dep.MemoryStart-minValidMemWODelay)
		upper := parentLowerProd + (dep.MemoryEnd - minValidMemWODelay)
		upperEdge := gf.Handler.Graph.Parent.OutputEdge(sink.Ix)
		return ComputeConsDependency(upperEdge, lower, upper, parent)
	case delay != nil && dep.MemoryEnd < minValidMemWODelay:
		// getter only
		lower := max64(0, dep.MemoryStart-minValidMemWDelay)
		upper := dep.MemoryEnd - minValidMemWDelay
		if getterEdge := delay.GetterEdge(); getterEdge != nil {
			return ComputeConsDependency(getterEdge, lower, upper, gf)
		}
		return []DependencyInfo{delayStorageDependency(delay, lower, upper, gf)}
	case delay != nil:
		// getter then interface
		var result []DependencyInfo
		getterLower := dep.MemoryStart - minValidMemWDelay
		if getterEdge := delay.GetterEdge(); getterEdge != nil {
			result = append(result, ComputeConsDependency(getterEdge, getterLower, delayValue-1, gf)...)
		} else {
			result = append(result, delayStorageDependency(delay, getterLower, delayValue-1, gf))
		}
		if parent == nil {
			panic(fmt.Errorf("output interface %s reached in the top graph", sink.Name))
		}
		parentLowerProd := snkRate * int64(gf.FiringIx)
		lower := parentLowerProd + max64(0, dep.MemoryStart-minValidMemWODelay)
		upper := parentLowerProd + (dep.MemoryEnd - minValidMemWODelay)
		upperEdge := gf.Handler.Graph.Parent.OutputEdge(sink.Ix)
		result = append(result, ComputeConsDependency(upperEdge, lower, upper, parent)...)
		return result
	default:
		// no delay and the window straddles minValidMemWODelay is
		// impossible: without a delay the two bounds coincide
		panic(fmt.Errorf("output interface window on %s escaped case analysis", sink.Name))
	}
}

// computeGraphConsDependency descends into a sink subgraph: the window maps
// onto the inner edge of the subgraph's input interface, repeated for each
// interface replication within each child firing.
func computeGraphConsDependency(e *Edge, lowerProd, upperProd int64, gf *GraphFiring) []DependencyInfo {
	sink := e.Sink
	snkRate := e.SinkRate(gf.Params)
	if snkRate <= 0 {
		return nil
	}
	snkRV := int64(gf.RV(sink))
	deps := computeConsDependencyImpl(e, lowerProd, upperProd, snkRate, snkRate*snkRV, gf)
	var result []DependencyInfo
	for _, dep := range deps {
		if dep.Vertex != sink {
			result = append(result, dep)
			continue
		}
		for k := dep.FiringStart; k <= dep.FiringEnd; k++ {
			child := gf.ChildFiring(sink, k)
			if child == nil || !child.Resolved() {
				result = append(result, unresolvedDependency)
				continue
			}
			innerEdge := sink.Subgraph.InputInterfaces[e.SnkPort].OutputEdge(0)
			ifSrcRate := innerEdge.SourceRate(child.Params)
			ifSnkRV := int64(child.RV(innerEdge.Sink))
			ifSnkRate := innerEdge.SinkRate(child.Params)
			adjustedSnkRate := ifSnkRate * ifSnkRV
			fullRepCount := adjustedSnkRate / ifSrcRate
			lower := int64(0)
			if k == dep.FiringStart {
				lower = dep.MemoryStart % ifSrcRate
			}
			upper := ifSrcRate - 1
			if k == dep.FiringEnd {
				upper = dep.MemoryEnd % ifSrcRate
			}
			for i := int64(0); i < fullRepCount; i++ {
				lp := lower + i*ifSrcRate
				up := upper + i*ifSrcRate
				result = append(result, ComputeConsDependency(innerEdge, lp, up, child)...)
			}
			if ifSrcRate*fullRepCount != adjustedSnkRate {
				lp := lower + fullRepCount*ifSrcRate
				if lp < adjustedSnkRate {
					up := min64(upper+fullRepCount*ifSrcRate, adjustedSnkRate-1)
					result = append(result, ComputeConsDependency(innerEdge, lp, up, child)...)
				}
			}
		}
	}
	return result
}

/* === Per-firing helpers === */

// ComputeExecDependencies returns, per input edge of v, the producer
// intervals supplying the firing's consumption window.
func ComputeExecDependencies(v *Vertex, firing uint32, gf *GraphFiring) [][]DependencyInfo {
	result := make([][]DependencyInfo, len(v.InEdges))
	for ix, e := range v.InEdges {
		snkRate := e.SinkRate(gf.Params)
		if snkRate == 0 {
			continue
		}
		lower := snkRate * int64(firing)
		upper := snkRate*int64(firing+1) - 1
		result[ix] = ComputeExecDependency(e, lower, upper, gf)
	}
	return result
}

// ComputeConsDependencies returns, per output edge of v, the consumer
// intervals absorbing the firing's production window.
func ComputeConsDependencies(v *Vertex, firing uint32, gf *GraphFiring) [][]DependencyInfo {
	result := make([][]DependencyInfo, len(v.OutEdges))
	for ix, e := range v.OutEdges {
		srcRate := e.SourceRate(gf.Params)
		if srcRate == 0 {
			continue
		}
		lower := srcRate * int64(firing)
		upper := srcRate*int64(firing+1) - 1
		result[ix] = ComputeConsDependency(e, lower, upper, gf)
	}
	return result
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
