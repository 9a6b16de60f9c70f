package spider2

import (
	"path/filepath"
	"testing"
)

func pipelineDesc() *GraphDesc {
	return &GraphDesc{
		Name: "pipe",
		Params: []ParamDesc{
			{Name: "n", Kind: "static", Value: 3},
		},
		Vertices: []VertexDesc{
			{Name: "A", Type: "normal", OutCount: 1},
			{Name: "B", Type: "normal", InCount: 1, OutCount: 1},
			{Name: "C", Type: "normal", InCount: 1},
		},
		Edges: []EdgeDesc{
			{Src: "A", SrcPort: 0, SrcRate: "n", Dst: "B", DstPort: 0, DstRate: "1"},
			{Src: "B", SrcPort: 0, SrcRate: "1", Dst: "C", DstPort: 0, DstRate: "n"},
		},
	}
}

func TestGraphDescBuild(t *testing.T) {
	g, err := BuildGraph(pipelineDesc())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.Vertices) != 3 || len(g.Edges) != 2 || len(g.Params) != 1 {
		t.Fatalf("built graph has %d vertices, %d edges, %d params",
			len(g.Vertices), len(g.Edges), len(g.Params))
	}
	rv, err := ComputeBRV(g, g.Params)
	if err != nil {
		t.Fatalf("brv: %v", err)
	}
	if rv[0] != 1 || rv[1] != 3 || rv[2] != 1 {
		t.Fatalf("rv = %v, want [1 3 1]", rv)
	}
}

func TestGraphDescRoundTrip(t *testing.T) {
	// build, export, re-import, schedule: both graphs produce the same
	// task sequence
	first, err := BuildGraph(pipelineDesc())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	exported := ExportGraph(first)
	second, err := BuildGraph(exported)
	if err != nil {
		t.Fatalf("rebuild from export: %v", err)
	}

	_, tasksA := scheduleGraph(t, first, singlePEPlatform())
	_, tasksB := scheduleGraph(t, second, singlePEPlatform())
	namesA := taskNames(tasksA)
	namesB := taskNames(tasksB)
	if len(namesA) != len(namesB) {
		t.Fatalf("task sequences differ in length: %v vs %v", namesA, namesB)
	}
	for ix := range namesA {
		if namesA[ix] != namesB[ix] {
			t.Fatalf("task sequences diverge: %v vs %v", namesA, namesB)
		}
	}
}

func TestGraphDescFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"g.yaml", "g.json"} {
		pathName := filepath.Join(dir, name)
		gd := pipelineDesc()
		if err := gd.WriteToFile(pathName); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		useYAML := filepath.Ext(name) == ".yaml"
		back, err := ReadGraphDesc(pathName, useYAML, nil)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if back.Name != gd.Name || len(back.Vertices) != len(gd.Vertices) ||
			len(back.Edges) != len(gd.Edges) {
			t.Fatalf("round trip through %s lost content: %+v", name, back)
		}
	}
}

func TestGraphDescHierarchy(t *testing.T) {
	gd := &GraphDesc{
		Name: "outer",
		Params: []ParamDesc{
			{Name: "k", Kind: "static", Value: 2},
		},
		Vertices: []VertexDesc{
			{Name: "src", Type: "normal", OutCount: 1},
			{Name: "dst", Type: "normal", InCount: 1},
		},
		Subgraphs: []GraphDesc{
			{
				Name: "inner",
				Params: []ParamDesc{
					{Name: "k", Kind: "inherited"},
				},
				Vertices: []VertexDesc{
					{Name: "X", Type: "normal", InCount: 1, OutCount: 1},
				},
				InputIfs:  []string{"din"},
				OutputIfs: []string{"dout"},
				Edges: []EdgeDesc{
					{Src: "din", SrcPort: 0, SrcRate: "k", Dst: "X", DstPort: 0, DstRate: "k"},
					{Src: "X", SrcPort: 0, SrcRate: "k", Dst: "dout", DstPort: 0, DstRate: "k"},
				},
			},
		},
		Edges: []EdgeDesc{
			{Src: "src", SrcPort: 0, SrcRate: "k", Dst: "inner", DstPort: 0, DstRate: "k"},
			{Src: "inner", SrcPort: 0, SrcRate: "k", Dst: "dst", DstPort: 0, DstRate: "k"},
		},
	}
	g, err := BuildGraph(gd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.Subgraphs) != 1 {
		t.Fatalf("subgraph view has %d entries, want 1", len(g.Subgraphs))
	}
	gf := resolvedFiring(t, g)
	child := gf.ChildFiring(g.Subgraphs[0], 0)
	if child == nil || !child.Resolved() {
		t.Fatalf("inner firing not resolved")
	}
	if child.ParamValue(0) != 2 {
		t.Fatalf("inherited parameter value %d, want 2", child.ParamValue(0))
	}
}

func TestPlatformDescBuild(t *testing.T) {
	pd := &PlatformDesc{
		Name: "board",
		Clusters: []ClusterDesc{
			{MemSize: 1 << 20, ReadPerByte: 1, WritePerByte: 1, PEs: []PEDesc{
				{Name: "arm0", HwType: "arm", HwIx: 0, Lrt: true},
				{Name: "arm1", HwType: "arm", HwIx: 1, Lrt: true},
			}},
			{MemBase: 1 << 32, MemSize: 1 << 20, ReadPerByte: 2, WritePerByte: 2, PEs: []PEDesc{
				{Name: "dsp0", HwType: "dsp", HwIx: 0, Lrt: true},
			}},
		},
		Grt:         "arm0",
		CommPerByte: 3,
	}
	pf, err := BuildPlatform(pd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pf.PECount() != 3 || pf.LRTCount() != 3 {
		t.Fatalf("platform has %d PEs, %d LRTs, want 3,3", pf.PECount(), pf.LRTCount())
	}
	if pf.GrtPE == nil || pf.GrtPE.Name != "arm0" {
		t.Fatalf("grt PE not set")
	}
	if cost := pf.ClusterCost(0, 1, 10); cost != 30 {
		t.Fatalf("cluster cost %d, want 30", cost)
	}
	if cost := pf.ClusterCost(1, 1, 10); cost != 0 {
		t.Fatalf("intra-cluster cost %d, want 0", cost)
	}
}

func TestTimingListApply(t *testing.T) {
	g, a, b := twoVertexGraph(t, 1, 1)
	pf := GenerateUniformPlatform(1, 2)
	tl := &TimingList{
		ListName: "timings",
		Timings: []VertexTimingDesc{
			{Vertex: "A", Expr: "5"},
			{Vertex: "B", HwType: "x86", Expr: "7"},
		},
		Mappings: []VertexMapDesc{
			{Vertex: "A", PEs: []string{"c0p1"}},
		},
	}
	if err := tl.Apply(g, pf); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := a.RTInfo.Timing(pf.PEs[0], g.Params); got != 5 {
		t.Fatalf("A timing %d, want 5", got)
	}
	if got := b.RTInfo.Timing(pf.PEs[0], g.Params); got != 7 {
		t.Fatalf("B timing %d, want 7", got)
	}
	if a.RTInfo.IsMappableOnPE(pf.PEs[0]) {
		t.Fatalf("A must not be mappable on c0p0")
	}
	if !a.RTInfo.IsMappableOnPE(pf.PEs[1]) {
		t.Fatalf("A must be mappable on c0p1")
	}
}

func TestCheckFileFormats(t *testing.T) {
	dir := t.TempDir()
	gd := pipelineDesc()
	graphPath := filepath.Join(dir, "graph.yaml")
	if err := gd.WriteToFile(graphPath); err != nil {
		t.Fatalf("write: %v", err)
	}
	ok, err := CheckFileFormats(map[string]string{"graph": graphPath})
	if !ok || err != nil {
		t.Fatalf("check failed: %v", err)
	}
}
