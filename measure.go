package spider2

// file measure.go summarizes a finished scheduling pass: per-PE load, idle
// and utilization figures, and the spread of loads across the platform.

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// A PEMeasure is the per-PE line of a schedule summary.
type PEMeasure struct {
	Name        string
	StartTime   uint64
	EndTime     uint64
	LoadTime    uint64
	IdleTime    uint64
	JobCount    uint32
	Utilization float64
}

// A ScheduleSummary aggregates one scheduling pass.
type ScheduleSummary struct {
	Makespan uint64
	TaskCnt  int
	PEs      []PEMeasure

	// spread of per-PE load among PEs that received work
	LoadMean float64
	LoadQ25  float64
	LoadMed  float64
	LoadQ75  float64
}

// Summarize computes the summary of a schedule on a platform.
func Summarize(schedule *Schedule, platform *Platform) *ScheduleSummary {
	sum := new(ScheduleSummary)
	sum.Makespan = schedule.Stats.Makespan()
	sum.TaskCnt = len(schedule.Tasks)

	var loads []float64
	for _, pe := range platform.PEs {
		ix := pe.VirtIx
		measure := PEMeasure{
			Name:        pe.Name,
			StartTime:   schedule.Stats.startTime[ix],
			EndTime:     schedule.Stats.EndTime(ix),
			LoadTime:    schedule.Stats.LoadTime(ix),
			IdleTime:    schedule.Stats.IdleTime(ix),
			JobCount:    schedule.Stats.JobCount(ix),
			Utilization: schedule.Stats.UtilizationFactor(ix),
		}
		sum.PEs = append(sum.PEs, measure)
		if measure.JobCount > 0 {
			loads = append(loads, float64(measure.LoadTime))
		}
	}
	if len(loads) > 0 {
		sort.Float64s(loads)
		sum.LoadMean = stat.Mean(loads, nil)
		sum.LoadQ25 = stat.Quantile(0.25, stat.Empirical, loads, nil)
		sum.LoadMed = stat.Quantile(0.5, stat.Empirical, loads, nil)
		sum.LoadQ75 = stat.Quantile(0.75, stat.Empirical, loads, nil)
	}
	return sum
}

// Report prints the summary, one line per PE with work, then the spread.
func (sum *ScheduleSummary) Report() {
	fmt.Printf("schedule: %d tasks, makespan %d\n", sum.TaskCnt, sum.Makespan)
	for _, pe := range sum.PEs {
		if pe.JobCount == 0 {
			continue
		}
		fmt.Printf("  %-12s jobs=%-4d load=%-8d idle=%-8d util=%.3f\n",
			pe.Name, pe.JobCount, pe.LoadTime, pe.IdleTime, pe.Utilization)
	}
	fmt.Printf("  load spread: mean %.1f, q25 %.1f, med %.1f, q75 %.1f\n",
		sum.LoadMean, sum.LoadQ25, sum.LoadMed, sum.LoadQ75)
}
