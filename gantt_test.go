package spider2

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGanttExport(t *testing.T) {
	g, _, _ := twoVertexGraph(t, 1, 3)
	pf := GenerateUniformPlatform(1, 2)
	sched, emitted := scheduleGraph(t, g, pf)
	if len(emitted) == 0 {
		t.Fatalf("nothing scheduled")
	}

	path := filepath.Join(t.TempDir(), "gantt.svg")
	if err := ExportGanttSVG(path, sched.Schedule, pf); err != nil {
		t.Fatalf("export: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	svg := string(raw)
	if !strings.Contains(svg, "<svg") || !strings.Contains(svg, "</svg>") {
		t.Fatalf("output is not an svg document")
	}
	// every task appears with its name:firing label and timing label
	for _, task := range emitted {
		if !strings.Contains(svg, task.Name()) {
			t.Fatalf("task %s missing from gantt", task.Name())
		}
	}
	if !strings.Contains(svg, "[0:") {
		t.Fatalf("timing labels missing")
	}
	// idle PEs contribute no row label
	used := make(map[string]bool)
	for _, task := range emitted {
		used[task.MappedPE.Name] = true
	}
	for _, pe := range pf.PEs {
		if !used[pe.Name] && strings.Contains(svg, ">"+pe.Name+"<") {
			t.Fatalf("idle PE %s has a row label", pe.Name)
		}
	}
	// grid lines are present
	if !strings.Contains(svg, "rect_grid") {
		t.Fatalf("grid lines missing")
	}
}

func TestGanttExportEmptySchedule(t *testing.T) {
	pf := GenerateUniformPlatform(1, 1)
	sc := CreateSchedule(pf)
	if err := ExportGanttSVG(filepath.Join(t.TempDir(), "x.svg"), sc, pf); err == nil {
		t.Fatalf("empty schedule must not export")
	}
}

func TestTaskColorStable(t *testing.T) {
	v := &Vertex{Name: "A", ID: 3}
	t1 := &Task{Vertex: v}
	t2 := &Task{Vertex: v, FiringIx: 5}
	if t1.Color() != t2.Color() {
		t.Fatalf("color must derive from the vertex, not the firing")
	}
	other := &Task{Vertex: &Vertex{Name: "B", ID: 4}}
	if t1.Color() == other.Color() {
		t.Fatalf("distinct vertices should hash to distinct colors")
	}
	if t1.Color() > 0xFFFFFF {
		t.Fatalf("color %x exceeds 24 bits", t1.Color())
	}
}
