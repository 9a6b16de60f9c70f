package spider2

// file firing.go holds the runtime firing state of the hierarchical graph: a
// GraphHandler per (subgraph, parent firing) owning one GraphFiring per
// firing of that subgraph.  The tree mirrors the graph hierarchy and is the
// substrate the dependency resolver and the scheduler walk.

import (
	"fmt"
)

// A GraphHandler owns the firings of one subgraph instance under one firing
// of its parent.  The handler for the top graph has a nil parent and exactly
// one firing.
type GraphHandler struct {
	Graph   *Graph
	Parent  *GraphFiring // firing of the parent graph this instance lives in
	Firings []*GraphFiring
}

// CreateGraphHandler is a constructor.  One GraphFiring is created per
// repetition of the subgraph; firings resolve lazily.
func CreateGraphHandler(g *Graph, parent *GraphFiring, count uint32) *GraphHandler {
	gh := new(GraphHandler)
	gh.Graph = g
	gh.Parent = parent
	gh.Firings = make([]*GraphFiring, count)
	var parentParams []*Param
	if parent != nil {
		parentParams = parent.Params
	} else {
		parentParams = g.Params
	}
	for k := range gh.Firings {
		gh.Firings[k] = createGraphFiring(gh, uint32(k), parentParams)
	}
	return gh
}

// Firing returns the k-th firing of the handled subgraph.
func (gh *GraphHandler) Firing(k uint32) *GraphFiring {
	return gh.Firings[k]
}

// A GraphFiring is the per-firing state of one subgraph instance: resolved
// parameter copies, the repetition vector, per-vertex task index registers,
// and a child handler per contained subgraph.
type GraphFiring struct {
	Handler  *GraphHandler
	FiringIx uint32
	Params   []*Param
	Children []*GraphHandler

	brv      []uint32
	taskIx   [][]uint32
	configIx []uint32 // task indices of config firings, usable pre-resolution
	resolved bool
}

func createGraphFiring(gh *GraphHandler, firing uint32, parentParams []*Param) *GraphFiring {
	gf := new(GraphFiring)
	gf.Handler = gh
	gf.FiringIx = firing
	gf.Children = make([]*GraphHandler, len(gh.Graph.Subgraphs))
	gf.brv = make([]uint32, len(gh.Graph.Vertices))
	for ix := range gf.brv {
		gf.brv[ix] = unresolvedRV
	}
	gf.taskIx = make([][]uint32, len(gh.Graph.Vertices))
	gf.configIx = make([]uint32, len(gh.Graph.ConfigVertices))
	for ix := range gf.configIx {
		gf.configIx[ix] = unresolvedRV
	}
	gf.Params = copyParams(gh.Graph.Params, parentParams)
	return gf
}

// configSlot returns a config vertex's position in the graph's config list.
func (gf *GraphFiring) configSlot(v *Vertex) int {
	for ix, cfg := range gf.Handler.Graph.ConfigVertices {
		if cfg == v {
			return ix
		}
	}
	panic(fmt.Errorf("vertex %s is not a config vertex of graph %s", v.Name, gf.Handler.Graph.Name))
}

// copyParams snapshots a graph's parameter list for one firing.  Static
// parameters are shared; dynamic ones are duplicated so each firing resolves
// independently; inherited ones capture the parent's current value.
func copyParams(params []*Param, parentParams []*Param) []*Param {
	result := make([]*Param, len(params))
	for ix, p := range params {
		switch p.Kind {
		case ParamInherited:
			snapshot := new(Param)
			snapshot.Name = p.Name
			snapshot.Ix = p.Ix
			snapshot.Parent = -1
			if parentParams[p.Parent].Resolved(parentParams) {
				snapshot.Kind = ParamStatic
				snapshot.SetValue(parentParams[p.Parent].Value(parentParams))
			} else {
				snapshot.Kind = ParamDynamic
			}
			result[ix] = snapshot
		case ParamDynamic, ParamDynamicDependant:
			snapshot := *p
			snapshot.set = false
			result[ix] = &snapshot
		default:
			result[ix] = p
		}
	}
	return result
}

// ParamsResolved reports whether every parameter of the firing has a value.
func (gf *GraphFiring) ParamsResolved() bool {
	for _, p := range gf.Params {
		if !p.Resolved(gf.Params) {
			return false
		}
	}
	return true
}

// Resolved reports whether the firing's BRV has been computed.
func (gf *GraphFiring) Resolved() bool {
	return gf.resolved
}

// ResolveBRV re-evaluates dynamic-dependant parameters, computes the BRV,
// sizes the task index registers, and builds the child handler per subgraph.
// A firing whose dynamic parameters are still unknown stays unresolved.
func (gf *GraphFiring) ResolveBRV() (err error) {
	defer catchEvalError(&err)
	gf.refreshInheritedParams()
	if !gf.ParamsResolved() {
		return nil
	}
	for _, p := range gf.Params {
		if p.Kind == ParamDynamicDependant {
			p.SetValue(p.Expr.Evaluate(gf.Params))
		}
	}
	brv, err := ComputeBRV(gf.Handler.Graph, gf.Params)
	if err != nil {
		return err
	}
	gf.brv = brv
	for ix := range gf.Handler.Graph.Vertices {
		count := gf.brv[ix]
		register := make([]uint32, count)
		for k := range register {
			register[k] = unresolvedRV
		}
		gf.taskIx[ix] = register
	}
	for _, sub := range gf.Handler.Graph.Subgraphs {
		gf.Children[sub.SubIx] = CreateGraphHandler(sub.Subgraph, gf, gf.brv[sub.Ix])
	}
	gf.resolved = true
	// children with fully-known parameters resolve right away; dynamic
	// ones wait for their config actors
	for _, child := range gf.Children {
		for _, f := range child.Firings {
			if err := f.ResolveBRV(); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshInheritedParams re-captures inherited parameters whose parent value
// arrived after this firing was created.
func (gf *GraphFiring) refreshInheritedParams() {
	parent := gf.Handler.Parent
	if parent == nil {
		return
	}
	parentParams := parent.Params
	for ix, p := range gf.Handler.Graph.Params {
		if p.Kind != ParamInherited {
			continue
		}
		snapshot := gf.Params[ix]
		if snapshot.Kind == ParamDynamic && !snapshot.set &&
			parentParams[p.Parent].Resolved(parentParams) {
			snapshot.Kind = ParamStatic
			snapshot.SetValue(parentParams[p.Parent].Value(parentParams))
		}
	}
}

// RV returns the repetition count of a vertex within this firing.
func (gf *GraphFiring) RV(v *Vertex) uint32 {
	if v.Graph != gf.Handler.Graph {
		panic(fmt.Errorf("vertex %s does not belong to graph %s", v.Name, gf.Handler.Graph.Name))
	}
	switch v.Type {
	case VertexInput, VertexOutput, VertexDelay, VertexConfig:
		return 1
	}
	return gf.brv[v.Ix]
}

// ChildFiring returns the k-th firing of a contained subgraph vertex.
func (gf *GraphFiring) ChildFiring(sub *Vertex, k uint32) *GraphFiring {
	handler := gf.Children[sub.SubIx]
	if handler == nil {
		return nil
	}
	return handler.Firing(k)
}

// RegisterTaskIx records the schedule task index of one vertex firing.
// Config firings register even while their graph's BRV is pending.
func (gf *GraphFiring) RegisterTaskIx(v *Vertex, firing uint32, taskIx uint32) {
	if v.Type == VertexConfig {
		gf.configIx[gf.configSlot(v)] = taskIx
		return
	}
	if firing >= gf.RV(v) {
		panic(fmt.Errorf("vertex %s firing %d exceeds repetition count %d", v.Name, firing, gf.RV(v)))
	}
	gf.taskIx[v.Ix][firing] = taskIx
}

// TaskIx returns the schedule task index of one vertex firing, or
// unresolvedRV when it has not been scheduled.
func (gf *GraphFiring) TaskIx(v *Vertex, firing uint32) uint32 {
	if v.Type == VertexConfig {
		return gf.configIx[gf.configSlot(v)]
	}
	if firing >= gf.RV(v) {
		panic(fmt.Errorf("vertex %s firing %d exceeds repetition count %d", v.Name, firing, gf.RV(v)))
	}
	return gf.taskIx[v.Ix][firing]
}

// ParamValue reads a parameter by index.
func (gf *GraphFiring) ParamValue(ix int) int64 {
	return gf.Params[ix].Value(gf.Params)
}

// SetParamValue installs a dynamic parameter value delivered by a config
// actor.  Dependent state (BRV, children) must be re-resolved afterwards.
func (gf *GraphFiring) SetParamValue(ix int, value int64) {
	gf.Params[ix].SetValue(value)
}

// Reset drops all per-iteration state so a dynamic graph can be re-analyzed
// on the next top-level iteration.  Static firings keep their resolution.
func (gf *GraphFiring) Reset() {
	if !gf.Handler.Graph.Dynamic() && gf.resolved {
		for ix := range gf.taskIx {
			for k := range gf.taskIx[ix] {
				gf.taskIx[ix][k] = unresolvedRV
			}
		}
		for ix := range gf.configIx {
			gf.configIx[ix] = unresolvedRV
		}
		for _, child := range gf.Children {
			if child != nil {
				for _, f := range child.Firings {
					f.Reset()
				}
			}
		}
		return
	}
	gf.resolved = false
	for ix := range gf.brv {
		gf.brv[ix] = unresolvedRV
		gf.taskIx[ix] = nil
	}
	for ix := range gf.configIx {
		gf.configIx[ix] = unresolvedRV
	}
	for ix := range gf.Children {
		gf.Children[ix] = nil
	}
	var parentParams []*Param
	if gf.Handler.Parent != nil {
		parentParams = gf.Handler.Parent.Params
	} else {
		parentParams = gf.Handler.Graph.Params
	}
	gf.Params = copyParams(gf.Handler.Graph.Params, parentParams)
}
