package spider2

import (
	"testing"
)

// resolvedFiring wraps a graph in a one-firing handler tree.
func resolvedFiring(t *testing.T, g *Graph) *GraphFiring {
	t.Helper()
	root := CreateGraphHandler(g, nil, 1)
	gf := root.Firing(0)
	if err := gf.ResolveBRV(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return gf
}

func TestExecDependencyPlainEdge(t *testing.T) {
	g, a, b := twoVertexGraph(t, 1, 3)
	gf := resolvedFiring(t, g)
	deps := ComputeExecDependency(b.InputEdge(0), 0, 2, gf)
	if len(deps) != 1 {
		t.Fatalf("got %d intervals, want 1", len(deps))
	}
	dep := deps[0]
	if dep.Vertex != a {
		t.Fatalf("producer is %v, want A", dep.Vertex)
	}
	if dep.FiringStart != 0 || dep.FiringEnd != 2 {
		t.Fatalf("firing range %d..%d, want 0..2", dep.FiringStart, dep.FiringEnd)
	}
	if dep.MemoryStart != 0 || dep.MemoryEnd != 0 {
		t.Fatalf("memory range %d..%d, want 0..0", dep.MemoryStart, dep.MemoryEnd)
	}
	if dep.Rate != 1 {
		t.Fatalf("rate %d, want 1", dep.Rate)
	}
}

func TestExecDependencyWindowsWithinProducer(t *testing.T) {
	// A produces 4 per firing, B consumes 2 per firing: each consumer
	// firing maps into half a producer firing
	g, a, b := twoVertexGraph(t, 4, 2)
	gf := resolvedFiring(t, g)
	// second firing of B: window [2,3] -> producer firing 0, bytes 2..3
	deps := ComputeExecDependency(b.InputEdge(0), 2, 3, gf)
	if len(deps) != 1 {
		t.Fatalf("got %d intervals, want 1", len(deps))
	}
	dep := deps[0]
	if dep.Vertex != a || dep.FiringStart != 0 || dep.FiringEnd != 0 {
		t.Fatalf("unexpected interval %+v", dep)
	}
	if dep.MemoryStart != 2 || dep.MemoryEnd != 3 {
		t.Fatalf("memory range %d..%d, want 2..3", dep.MemoryStart, dep.MemoryEnd)
	}
}

func TestExecDependencyEmptyWindow(t *testing.T) {
	g, _, b := twoVertexGraph(t, 2, 2)
	gf := resolvedFiring(t, g)
	deps := ComputeExecDependency(b.InputEdge(0), 5, 4, gf)
	if len(deps) != 0 {
		t.Fatalf("empty window returned %d intervals", len(deps))
	}
}

// delayedGraph builds A -> B with a delay and a setter S feeding it.
func delayedGraph(t *testing.T, srcRate, snkRate, delayValue int64) (*Graph, *Vertex, *Vertex, *Vertex) {
	t.Helper()
	g := CreateGraph("delayed", 3, 2, 0)
	a, _ := g.AddVertex("A", VertexNormal, 0, 1)
	b, _ := g.AddVertex("B", VertexNormal, 1, 0)
	s, _ := g.AddVertex("S", VertexNormal, 0, 1)
	e, err := g.ConnectFixed(a, 0, srcRate, b, 0, snkRate)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	d, err := g.addDelay(e, delayValue, false)
	if err != nil {
		t.Fatalf("delay: %v", err)
	}
	if err := g.AttachDelayEndpoints(d, s, 0, nil, 0); err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	return g, a, b, s
}

func TestExecDependencyDelaySplit(t *testing.T) {
	// delay 2, B consumes 4: first firing straddles the boundary
	g, a, b, s := delayedGraph(t, 4, 4, 2)
	gf := resolvedFiring(t, g)
	deps := ComputeExecDependency(b.InputEdge(0), 0, 3, gf)
	if len(deps) != 2 {
		t.Fatalf("got %d intervals, want 2 (setter + source)", len(deps))
	}
	// setter intervals precede source intervals
	if deps[0].Vertex != s {
		t.Fatalf("first interval from %v, want setter", deps[0].Vertex)
	}
	if deps[0].MemoryStart != 0 || deps[0].MemoryEnd != 1 {
		t.Fatalf("setter bytes %d..%d, want 0..1", deps[0].MemoryStart, deps[0].MemoryEnd)
	}
	if deps[1].Vertex != a {
		t.Fatalf("second interval from %v, want source", deps[1].Vertex)
	}
	if deps[1].FiringStart != 0 || deps[1].FiringEnd != 0 {
		t.Fatalf("source firing range %d..%d, want 0..0", deps[1].FiringStart, deps[1].FiringEnd)
	}
	if deps[1].MemoryStart != 0 || deps[1].MemoryEnd != 1 {
		t.Fatalf("source bytes %d..%d, want 0..1", deps[1].MemoryStart, deps[1].MemoryEnd)
	}
}

func TestExecDependencySetterOnly(t *testing.T) {
	// delay covers the whole first firing window
	g, _, b, s := delayedGraph(t, 4, 2, 2)
	gf := resolvedFiring(t, g)
	deps := ComputeExecDependency(b.InputEdge(0), 0, 1, gf)
	if len(deps) != 1 {
		t.Fatalf("got %d intervals, want 1", len(deps))
	}
	if deps[0].Vertex != s {
		t.Fatalf("interval from %v, want setter", deps[0].Vertex)
	}
}

func TestExecDependencyPersistentDelayStorage(t *testing.T) {
	g := CreateGraph("persist", 2, 2, 0)
	a, _ := g.AddVertex("A", VertexNormal, 1, 1)
	b, _ := g.AddVertex("B", VertexNormal, 1, 1)
	if _, err := g.ConnectFixed(a, 0, 1, b, 0, 4); err != nil {
		t.Fatalf("connect: %v", err)
	}
	back, err := g.ConnectFixed(b, 0, 4, a, 0, 1)
	if err != nil {
		t.Fatalf("connect back: %v", err)
	}
	d, err := g.addDelay(back, 4, true)
	if err != nil {
		t.Fatalf("delay: %v", err)
	}
	gf := resolvedFiring(t, g)
	if gf.RV(a) != 4 || gf.RV(b) != 1 {
		t.Fatalf("rv = %d,%d, want 4,1", gf.RV(a), gf.RV(b))
	}
	// every firing of A reads the delay's initial tokens
	for firing := uint32(0); firing < 4; firing++ {
		deps := ComputeExecDependency(a.InputEdge(0), int64(firing), int64(firing), gf)
		if len(deps) != 1 {
			t.Fatalf("firing %d: got %d intervals, want 1", firing, len(deps))
		}
		if deps[0].Delay != d {
			t.Fatalf("firing %d: interval not in delay storage: %+v", firing, deps[0])
		}
		if deps[0].MemoryStart != int64(firing) {
			t.Fatalf("firing %d: storage offset %d", firing, deps[0].MemoryStart)
		}
	}
}

func TestConsDependencyPlainEdge(t *testing.T) {
	g, a, b := twoVertexGraph(t, 1, 3)
	gf := resolvedFiring(t, g)
	// producer firing 1 feeds byte 1 of B's only firing
	deps := ComputeConsDependency(a.OutputEdge(0), 1, 1, gf)
	if len(deps) != 1 {
		t.Fatalf("got %d intervals, want 1", len(deps))
	}
	dep := deps[0]
	if dep.Vertex != b || dep.FiringStart != 0 || dep.FiringEnd != 0 {
		t.Fatalf("unexpected interval %+v", dep)
	}
	if dep.MemoryStart != 1 || dep.MemoryEnd != 1 {
		t.Fatalf("memory range %d..%d, want 1..1", dep.MemoryStart, dep.MemoryEnd)
	}
}

func TestDependencyCoverage(t *testing.T) {
	// union of intervals over all consumer firings covers the producer
	// stream exactly, without gaps
	g, _, b := twoVertexGraph(t, 6, 4)
	gf := resolvedFiring(t, g)
	rv := gf.RV(b)
	covered := int64(0)
	for firing := uint32(0); firing < rv; firing++ {
		deps := ComputeExecDependency(b.InputEdge(0), int64(firing)*4, int64(firing)*4+3, gf)
		for _, dep := range deps {
			covered += dep.Size()
		}
	}
	total := int64(rv) * 4
	if covered != total {
		t.Fatalf("covered %d bytes, want %d", covered, total)
	}
}

func TestDependencyMonotoneWindow(t *testing.T) {
	// widening the window never shrinks the dependency set
	g, _, b := twoVertexGraph(t, 3, 8)
	gf := resolvedFiring(t, g)
	narrow := ComputeExecDependency(b.InputEdge(0), 2, 4, gf)
	wide := ComputeExecDependency(b.InputEdge(0), 1, 6, gf)
	narrowCount := countFirings(narrow)
	wideCount := countFirings(wide)
	if wideCount < narrowCount {
		t.Fatalf("widened window covers %d firings, narrower one %d", wideCount, narrowCount)
	}
}

func countFirings(deps []DependencyInfo) int {
	count := 0
	for _, dep := range deps {
		count += int(dep.FiringEnd - dep.FiringStart + 1)
	}
	return count
}

func TestHierarchicalExecDependency(t *testing.T) {
	// sub contains In -> X -> Out; top contains A -> sub -> B.  B's window
	// must resolve through the subgraph onto X.
	sub := CreateGraph("sub", 1, 2, 0)
	x, _ := sub.AddVertex("X", VertexNormal, 1, 1)
	in, _ := sub.AddVertex("in", VertexInput, 0, 1)
	out, _ := sub.AddVertex("out", VertexOutput, 1, 0)
	if _, err := sub.ConnectFixed(in, 0, 2, x, 0, 2); err != nil {
		t.Fatalf("connect in: %v", err)
	}
	if _, err := sub.ConnectFixed(x, 0, 2, out, 0, 2); err != nil {
		t.Fatalf("connect out: %v", err)
	}

	top := CreateGraph("top", 3, 2, 0)
	a, _ := top.AddVertex("A", VertexNormal, 0, 1)
	b, _ := top.AddVertex("B", VertexNormal, 1, 0)
	h, err := top.AddSubgraph("H", sub)
	if err != nil {
		t.Fatalf("subgraph: %v", err)
	}
	if _, err := top.ConnectFixed(a, 0, 2, h, 0, 2); err != nil {
		t.Fatalf("connect A: %v", err)
	}
	if _, err := top.ConnectFixed(h, 0, 2, b, 0, 2); err != nil {
		t.Fatalf("connect B: %v", err)
	}

	gf := resolvedFiring(t, top)
	child := gf.ChildFiring(h, 0)
	if child == nil || !child.Resolved() {
		t.Fatalf("child firing not resolved")
	}

	// B reads through the subgraph boundary down to X
	deps := ComputeExecDependency(b.InputEdge(0), 0, 1, gf)
	if len(deps) != 1 {
		t.Fatalf("got %d intervals, want 1", len(deps))
	}
	if deps[0].Vertex != x {
		t.Fatalf("producer is %v, want X inside the subgraph", deps[0].Vertex)
	}
	if deps[0].Firing != child {
		t.Fatalf("producer firing is not the child handler")
	}

	// X reads through the input interface up to A
	xdeps := ComputeExecDependency(x.InputEdge(0), 0, 1, child)
	if len(xdeps) != 1 {
		t.Fatalf("got %d intervals for X, want 1", len(xdeps))
	}
	if xdeps[0].Vertex != a {
		t.Fatalf("X's producer is %v, want A in the parent", xdeps[0].Vertex)
	}
}

func TestUnresolvedSubgraphDependency(t *testing.T) {
	// dynamic subgraph: dependencies into it yield the unresolved sentinel
	sub := CreateGraph("dynsub", 1, 2, 1)
	if _, err := sub.AddParam("p", ParamDynamic, 0); err != nil {
		t.Fatalf("param: %v", err)
	}
	x, _ := sub.AddVertex("X", VertexNormal, 1, 1)
	in, _ := sub.AddVertex("in", VertexInput, 0, 1)
	out, _ := sub.AddVertex("out", VertexOutput, 1, 0)
	if _, err := sub.Connect(in, 0, "p", x, 0, "p"); err != nil {
		t.Fatalf("connect in: %v", err)
	}
	if _, err := sub.Connect(x, 0, "p", out, 0, "p"); err != nil {
		t.Fatalf("connect out: %v", err)
	}

	top := CreateGraph("dyntop", 3, 2, 0)
	a, _ := top.AddVertex("A", VertexNormal, 0, 1)
	b, _ := top.AddVertex("B", VertexNormal, 1, 0)
	h, err := top.AddSubgraph("H", sub)
	if err != nil {
		t.Fatalf("subgraph: %v", err)
	}
	if _, err := top.ConnectFixed(a, 0, 2, h, 0, 2); err != nil {
		t.Fatalf("connect A: %v", err)
	}
	if _, err := top.ConnectFixed(h, 0, 2, b, 0, 2); err != nil {
		t.Fatalf("connect B: %v", err)
	}
	gf := resolvedFiring(t, top)

	deps := ComputeExecDependency(b.InputEdge(0), 0, 1, gf)
	if len(deps) != 1 || !deps[0].Unresolved() {
		t.Fatalf("expected one unresolved sentinel, got %+v", deps)
	}

	// once the parameter lands, the same window resolves through to X
	child := gf.ChildFiring(h, 0)
	child.SetParamValue(0, 2)
	if err := child.ResolveBRV(); err != nil {
		t.Fatalf("resolve child: %v", err)
	}
	deps = ComputeExecDependency(b.InputEdge(0), 0, 1, gf)
	if len(deps) != 1 || deps[0].Vertex != x {
		t.Fatalf("expected resolution onto X, got %+v", deps)
	}
}
