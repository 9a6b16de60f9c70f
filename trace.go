package spider2

// file trace.go collects execution trace records for post-run analysis.
// Records are serialized with yaml and timestamped in virtual time.

import (
	"fmt"
	"os"
	"strings"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// An ExecTrace records one visit of the execution to a scheduled task.
type ExecTrace struct {
	Time     float64 `json:"time" yaml:"time"`
	Ticks    int64   `json:"ticks" yaml:"ticks"`
	Priority int64   `json:"priority" yaml:"priority"`
	TaskIx   int     `json:"taskix" yaml:"taskix"`
	ObjID    int     `json:"objid" yaml:"objid"`
	LrtIx    int     `json:"lrtix" yaml:"lrtix"`
	Op       string  `json:"op" yaml:"op"`
	Label    string  `json:"label" yaml:"label"`
}

// Serialize transforms a trace into a string, for writing to file.
func (et *ExecTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*et)
	if merr != nil {
		panic(merr)
	}
	return string(bytes)
}

// A TraceManager accumulates trace records when active: activity flag,
// record insertion, a name dictionary, and a file writer.
type TraceManager struct {
	Name   string
	active bool

	records []ExecTrace
	names   map[int][2]string
}

// CreateTraceManager is a constructor.
func CreateTraceManager(name string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.Name = name
	tm.active = active
	tm.names = make(map[int][2]string)
	return tm
}

// Active reports whether records are being gathered.
func (tm *TraceManager) Active() bool {
	return tm.active
}

// AddName includes an id -> (name, type) pair in the dictionary.
func (tm *TraceManager) AddName(id int, name string, kind string) {
	if !tm.active {
		return
	}
	tm.names[id] = [2]string{name, kind}
}

// AddTrace appends a record at a virtual time.
func (tm *TraceManager) AddTrace(vrt vrtime.Time, taskIx int, objID int, lrtIx int, op string, label string) {
	if !tm.active {
		return
	}
	tm.records = append(tm.records, ExecTrace{
		Time:     vrt.Seconds(),
		Ticks:    vrt.Ticks(),
		Priority: vrt.Pri(),
		TaskIx:   taskIx,
		ObjID:    objID,
		LrtIx:    lrtIx,
		Op:       op,
		Label:    label,
	})
}

// AddTaskTrace records the completion of one scheduled task, stamping the
// record with the task's virtual end time.
func (tm *TraceManager) AddTaskTrace(t *Task, lrtIx int) {
	if !tm.active {
		return
	}
	objID := 0
	if t.Vertex != nil {
		objID = t.Vertex.ID
	}
	tm.AddTrace(vrtime.SecondsToTime(float64(t.EndTime)), int(t.Ix), objID, lrtIx, "done", t.Name())
}

// RecordCount returns the number of gathered records.
func (tm *TraceManager) RecordCount() int {
	return len(tm.records)
}

// WriteToFile saves the gathered records, one yaml document per record, and
// reports whether a file was produced.
func (tm *TraceManager) WriteToFile(path string) bool {
	if !tm.active || len(tm.records) == 0 {
		return false
	}
	var sb strings.Builder
	for ix := range tm.records {
		sb.WriteString("---\n")
		sb.WriteString(tm.records[ix].Serialize())
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		panic(fmt.Errorf("trace file %s: %v", path, err))
	}
	return true
}
