package spider2

// file gantt.go writes the schedule as an SVG Gantt chart: one row per PE
// with non-zero utilization, one rounded rectangle per task colored by a
// hash of its vertex, a grid line every 40 pixels, and two axes ending in
// arrowheads.

import (
	"fmt"
	"os"
	"strings"
)

const (
	ganttOffsetX     = 3
	ganttOffsetY     = 3
	ganttBorder      = 5
	ganttArrowSize   = 8
	ganttArrowStroke = 2
	ganttTaskHeight  = 50
	ganttTaskSpace   = 5
	ganttTaskMinW    = 50
	ganttTaskMaxW    = 600
	ganttTextBorder  = 2
)

const ganttTextMaxHeight = ganttTaskHeight - 10
const ganttPEFontSize = float64(ganttTextMaxHeight) / 3.0
const ganttXFontOffset = 0.2588
const ganttYFontOffset = 0.2358

func widthFromFontSize(fontSize float64, count int) float64 {
	const alpha = 0.6016
	const beta = 0.6855
	return fontSize * (beta + alpha*float64(count))
}

func fontSizeFor(name string, boxWidth uint64) float64 {
	maxWidth := float64(boxWidth) - 2*ganttTextBorder
	count := len(name)
	maxFont := (float64(ganttTextMaxHeight) - 2.0) * 3.0 / 5.0
	width := widthFromFontSize(maxFont, count)
	if width > maxWidth {
		return maxWidth / widthFromFontSize(1.0, count)
	}
	return maxFont
}

func centeredX(xAnchor, widthAnchor, width, fontSize float64) float64 {
	return (xAnchor + (widthAnchor-width)/2.0) - ganttXFontOffset*fontSize
}

func centeredY(yAnchor, heightAnchor, height, fontSize float64) float64 {
	return (yAnchor + (heightAnchor-height)/2.0 + fontSize) - ganttYFontOffset*fontSize
}

// ganttExporter holds the derived geometry of one export.
type ganttExporter struct {
	schedule *Schedule
	platform *Platform

	alpha         float64
	offsetX       uint64
	makespanWidth uint64
	width         uint64
	height        uint64
}

// ExportGanttSVG writes the Gantt of a schedule to path.
func ExportGanttSVG(path string, schedule *Schedule, platform *Platform) error {
	if len(schedule.Tasks) == 0 {
		return fmt.Errorf("schedule is empty, nothing to export")
	}
	ge := createGanttExporter(schedule, platform)
	var sb strings.Builder
	ge.printHeader(&sb)
	ge.printPENames(&sb)
	ge.printAxes(&sb)
	for _, t := range schedule.Tasks {
		ge.printTask(&sb, t)
	}
	sb.WriteString("\n  </g>\n</svg>\n")
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func createGanttExporter(schedule *Schedule, platform *Platform) *ganttExporter {
	ge := new(ganttExporter)
	ge.schedule = schedule
	ge.platform = platform

	minExec := ^uint64(0)
	maxExec := uint64(0)
	for _, t := range schedule.Tasks {
		execTime := t.EndTime - t.StartTime
		if execTime < minExec {
			minExec = execTime
		}
		if execTime > maxExec {
			maxExec = execTime
		}
	}
	if minExec == 0 {
		minExec = 1
	}
	if maxExec == 0 {
		maxExec = 1
	}
	widthMax := float64(ganttTaskMaxW)
	ratio := float64(maxExec) / float64(minExec)
	if ganttTaskMinW*ratio > widthMax {
		widthMax = ganttTaskMinW * ratio
	}
	ge.alpha = widthMax / float64(maxExec)

	ge.offsetX = ge.realXOffset()
	ge.makespanWidth = ge.timeWidth(schedule.Stats.MinStartTime() + schedule.Stats.Makespan())
	ge.width = ge.makespanWidth + 2*ganttBorder + ge.offsetX + ganttArrowStroke + ganttArrowSize
	ge.height = uint64(platform.PECount()*(ganttTaskHeight+ganttTaskSpace)) + ganttTaskSpace +
		ganttArrowStroke + ganttArrowSize + ganttOffsetY
	return ge
}

func (ge *ganttExporter) realXOffset() uint64 {
	maxWidth := float64(ganttOffsetX)
	for _, pe := range ge.platform.PEs {
		if ge.schedule.Stats.UtilizationFactor(pe.VirtIx) > 0 {
			width := widthFromFontSize(ganttPEFontSize, len(pe.Name))
			if width > maxWidth {
				maxWidth = width
			}
		}
	}
	return uint64(maxWidth)
}

func (ge *ganttExporter) timeWidth(time uint64) uint64 {
	return uint64(ge.alpha * float64(time))
}

func (ge *ganttExporter) printHeader(sb *strings.Builder) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<!-- Created with spider2 -->

<svg
   xmlns:dc="http://purl.org/dc/elements/1.1/"
   xmlns:svg="http://www.w3.org/2000/svg"
   xmlns="http://www.w3.org/2000/svg"
   id="svg0"
   version="1.1"
   width="%d"
   height="%d">
  <g id="layer1">`, ge.width, ge.height)
}

func (ge *ganttExporter) printPENames(sb *strings.Builder) {
	for _, pe := range ge.platform.PEs {
		if ge.schedule.Stats.UtilizationFactor(pe.VirtIx) <= 0 {
			continue
		}
		yLine := ge.height - (ganttOffsetY + ganttArrowStroke + uint64(pe.VirtIx+1)*(ganttTaskHeight+ganttBorder))
		xText := -(ganttXFontOffset * ganttPEFontSize)
		yText := centeredY(float64(yLine), ganttTaskHeight, ganttPEFontSize, ganttPEFontSize)
		fmt.Fprintf(sb, `
    <text
       style="font-size:%fpx;font-family:monospace;fill:#000000;fill-opacity:1;"
       x="%f"
       y="%f"
       ><tspan style="fill:none">|</tspan>%s<tspan style="fill:none">|</tspan></text>`,
			ganttPEFontSize, xText, yText, pe.Name)
	}
}

func (ge *ganttExporter) printAxes(sb *strings.Builder) {
	const arrowColor = "393c3c"
	const gridColor = "e8e8e8"
	verticalHeight := ge.height - (3*ganttArrowSize-4)/2

	// vertical axis and arrowhead
	fmt.Fprintf(sb, `
    <rect fill="#%s" stroke="none" id="rect_arrow_vertical"
       width="%d" height="%d" x="%d" y="%d" />
    <path fill="#%s" display="inline" stroke="none" fill-rule="evenodd"
       d="M %d,0 %d,%d H %d Z" id="arrow_vertical_head" />`,
		arrowColor, ganttArrowStroke, verticalHeight, ge.offsetX, ganttArrowSize-1,
		arrowColor, ge.offsetX+1, ge.offsetX+1+ganttArrowSize/2, ganttArrowSize, ge.offsetX+1-ganttArrowSize/2)

	// vertical grid, one line every 40 pixels
	gridCount := ge.makespanWidth / 40
	for i := uint64(0); i <= gridCount; i++ {
		fmt.Fprintf(sb, `
    <rect fill="#%s" stroke="none" id="rect_grid"
       width="1" height="%d" x="%d" y="%d" />`,
			gridColor, verticalHeight, ge.offsetX+ganttArrowStroke+ganttBorder+i*40, ganttArrowSize-1)
	}

	// horizontal axis and arrowhead
	fmt.Fprintf(sb, `
    <rect fill="#%s" stroke="none" id="rect_arrow_horizontal"
       width="%d" height="%d" x="%d" y="%d" />
    <path fill="#%s" display="inline" stroke="none" fill-rule="evenodd"
       d="M %d,%d %d,%d V %d Z" id="arrow_horizontal_head" />`,
		arrowColor, ge.width-(ge.offsetX+ganttArrowSize-1), ganttArrowStroke, ge.offsetX,
		ge.height-(ganttArrowSize+ganttArrowStroke)/2,
		arrowColor, ge.width, ge.height-ganttArrowSize/2, ge.width-ganttArrowSize, ge.height, ge.height-ganttArrowSize)
}

func (ge *ganttExporter) printTask(sb *strings.Builder, t *Task) {
	name := t.Name()
	color := t.Color()
	red := (color >> 16) & 0xFF
	green := (color >> 8) & 0xFF
	blue := color & 0xFF
	taskWidth := ge.timeWidth(t.EndTime - t.StartTime)
	if taskWidth == 0 {
		taskWidth = 1
	}

	x := ge.offsetX + ganttArrowStroke + ganttBorder + ge.timeWidth(t.StartTime)
	y := ge.height - (ganttOffsetY + ganttArrowStroke + uint64(t.MappedPE.VirtIx+1)*(ganttTaskHeight+ganttBorder))

	fmt.Fprintf(sb, `
    <g>
        <rect
           fill="#%02x%02x%02x"
           stroke="none"
           id="rect_%s"
           width="%d"
           height="%d"
           x="%d"
           y="%d"
           ry="10" />`, red, green, blue, name, taskWidth, ganttTaskHeight, x, y)

	fontSize := fontSizeFor(name, taskWidth)
	textWidth := widthFromFontSize(fontSize, len(name))
	xText := centeredX(float64(x), float64(taskWidth), textWidth, fontSize)
	yText := centeredY(float64(y), ganttTaskHeight, 5.0*fontSize/3.0+2.0, fontSize)
	fmt.Fprintf(sb, `
        <text
           style="font-size:%fpx;font-family:monospace;fill:#ffffff;fill-opacity:1;"
           x="%f"
           y="%f"
           ><tspan style="fill:none">|</tspan>%s<tspan style="fill:none">|</tspan></text>`,
		fontSize, xText, yText, name)

	timeFontSize := fontSize / 1.5
	timeString := fmt.Sprintf("[%d:%d]", t.StartTime, t.EndTime)
	timeWidth := widthFromFontSize(timeFontSize, len(timeString))
	xTime := centeredX(xText, textWidth, timeWidth, timeFontSize)
	yTime := yText + fontSize + 2 - ganttYFontOffset*timeFontSize
	fmt.Fprintf(sb, `
        <text
           style="font-size:%fpx;font-family:monospace;fill:#ffffff;fill-opacity:1;"
           x="%f"
           y="%f"
           ><tspan style="fill:none">|</tspan>%s<tspan style="fill:none">|</tspan></text>
    </g>`, timeFontSize, xTime, yTime, timeString)
}
