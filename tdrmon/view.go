package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/pterm/pterm"

	"github.com/itohio/gotdr/pkg/config"
	"github.com/itohio/gotdr/pkg/poller"
	"github.com/itohio/gotdr/pkg/reflection"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/units"
	"github.com/itohio/gotdr/pkg/waveform"
)

const sparkWidth = 72

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// frame is what the monitor shows for one trace.
type frame struct {
	Points []waveform.Point
	Stats  waveform.Stats
	Edges  []reflection.Edge
}

// monitorView turns queued traces into frames. It is only used from the
// display goroutine.
type monitorView struct {
	times     []float64
	adc       units.Adc
	naverages int
	display   config.DisplayConfig

	avg    *waveform.Averager
	points []waveform.Point
	frames int
	last   frame
}

func newMonitorView(s settings.TraceSettings, rxdac []int, display config.DisplayConfig) *monitorView {
	return &monitorView{
		times:     s.RampModel.CalcTimes(rxdac),
		adc:       units.DefaultAdc(),
		naverages: s.NAverages,
		display:   display,
		avg:       waveform.NewAverager(display.Average),
		points:    make([]waveform.Point, 0, display.MaxPoints),
	}
}

// consume takes at most one trace from q without blocking and reports
// whether the frame changed.
func (v *monitorView) consume(q *poller.Queue) bool {
	data, ok := q.TryGet()
	if !ok {
		return false
	}

	v.avg.Add(waveform.ADCVolts(data, v.adc, v.naverages))
	mean := v.avg.Mean()

	v.points = waveform.Downsample(v.points, waveform.Points(v.times, mean), v.display.MaxPoints)
	v.last = frame{
		Points: v.points,
		Stats:  waveform.Summarize(mean),
		Edges:  reflection.Find(v.times, mean, v.display.Edges()),
	}
	v.frames++
	return true
}

func (v *monitorView) render(acquired, failures int64, dropped int) string {
	var b strings.Builder
	f := v.last

	fmt.Fprintf(&b, "Frame %d  acquired %d  failures %d  dropped %d  averaging %d\n",
		v.frames, acquired, failures, dropped, v.avg.Len())
	fmt.Fprintf(&b, "min %.3f V  max %.3f V  mean %.3f V  sd %.4f V\n\n",
		f.Stats.Min, f.Stats.Max, f.Stats.Mean, f.Stats.StdDev)
	b.WriteString(sparkline(waveform.Downsample(nil, f.Points, sparkWidth), f.Stats.Min, f.Stats.Max))
	b.WriteString("\n\n")

	if len(f.Edges) == 0 {
		b.WriteString("No edges above threshold.\n")
		return b.String()
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(edgeTable(f.Edges, v.display)).Srender()
	if err != nil {
		b.WriteString(err.Error())
		return b.String()
	}
	b.WriteString(table)
	return b.String()
}

// edgeTable describes each edge relative to the first (incident) one.
func edgeTable(edges []reflection.Edge, display config.DisplayConfig) pterm.TableData {
	data := pterm.TableData{{"#", "Time (ps)", "Width (ps)", "Step (V)", "Rho", "Z (Ohm)", "Distance (m)"}}
	rho := reflection.Rho(edges)
	for i, e := range edges {
		row := []string{
			fmt.Sprint(i),
			fmt.Sprintf("%.0f", e.StartTime),
			fmt.Sprintf("%.0f", e.Width()),
			fmt.Sprintf("%+.3f", e.Step),
			"-", "-", "-",
		}
		if i > 0 && i-1 < len(rho) {
			r := rho[i-1]
			row[4] = fmt.Sprintf("%+.3f", r)
			row[5] = fmt.Sprintf("%.1f", reflection.Impedance(display.Impedance, r))
			row[6] = fmt.Sprintf("%.3f", reflection.Distance(e.StartTime-edges[0].StartTime, display.VelocityFactor))
		}
		data = append(data, row)
	}
	return data
}

// sparkline draws values between lo and hi with block characters.
func sparkline(pts []waveform.Point, lo, hi float64) string {
	span := hi - lo
	out := make([]rune, len(pts))
	for i, p := range pts {
		level := 0
		if span > 0 && !math.IsNaN(p.V) {
			level = int(math.Round((p.V - lo) / span * float64(len(sparkRunes)-1)))
			level = max(0, min(len(sparkRunes)-1, level))
		}
		out[i] = sparkRunes[level]
	}
	return string(out)
}
