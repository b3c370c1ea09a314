package session

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-posemusic/pkg/mapping"
)

// Stats summarizes one series.
type Stats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// Summarize computes Stats for xs. An empty series gives the zero value.
func Summarize(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	s := Stats{
		N:   len(xs),
		Min: floats.Min(sorted),
		Max: floats.Max(sorted),
		P95: stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	return s
}

// Report describes one session's performance.
type Report struct {
	Session     Session       `json:"session"`
	Duration    time.Duration `json:"duration"`
	Frames      int           `json:"frames"`
	Commands    int           `json:"commands"`
	Notes       int           `json:"notes"`
	FPS         Stats         `json:"fps"`
	InferMs     Stats         `json:"infer_ms"`
	Energy      Stats         `json:"energy"`
	SkipChanges int           `json:"skip_changes"`
	TierChanges int           `json:"tier_changes"`
	Escalated   bool          `json:"escalated"`

	perf []PerfRecord
}

// BuildReport loads a session and summarizes it.
func BuildReport(ctx context.Context, store *Store, id string) (*Report, error) {
	sess, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	frames, err := store.Frames(ctx, id)
	if err != nil {
		return nil, err
	}
	cmds, err := store.Commands(ctx, id)
	if err != nil {
		return nil, err
	}
	perf, err := store.Perf(ctx, id)
	if err != nil {
		return nil, err
	}
	return Summarise(sess, frames, cmds, perf), nil
}

// Summarise builds a report from loaded records.
func Summarise(sess Session, frames []FrameRecord, cmds []CommandRecord, perf []PerfRecord) *Report {
	r := &Report{
		Session:  sess,
		Frames:   len(frames),
		Commands: len(cmds),
		perf:     perf,
	}
	if !sess.EndedAt.IsZero() {
		r.Duration = sess.EndedAt.Sub(sess.StartedAt)
	}

	for _, c := range cmds {
		if c.Command.Kind == mapping.KindNoteOn {
			r.Notes++
		}
	}

	infer := make([]float64, 0, len(frames))
	for _, f := range frames {
		infer = append(infer, f.InferMs)
	}
	r.InferMs = Summarize(infer)

	fps := make([]float64, 0, len(perf))
	energy := make([]float64, 0, len(perf))
	for i, p := range perf {
		if p.FPS > 0 {
			fps = append(fps, p.FPS)
		}
		energy = append(energy, p.Energy)
		r.Escalated = r.Escalated || p.Escalated
		if i > 0 {
			if p.Skip != perf[i-1].Skip {
				r.SkipChanges++
			}
			if p.Tier != perf[i-1].Tier {
				r.TierChanges++
			}
		}
	}
	r.FPS = Summarize(fps)
	r.Energy = Summarize(energy)
	return r
}

// WriteText prints the report as an aligned table.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", r.Session.ID)
	fmt.Fprintf(tw, "mode\t%s\n", r.Session.Mode)
	fmt.Fprintf(tw, "started\t%s\n", r.Session.StartedAt.Format(time.RFC3339))
	if r.Duration > 0 {
		fmt.Fprintf(tw, "duration\t%s\n", r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(tw, "frames\t%d\n", r.Frames)
	fmt.Fprintf(tw, "commands\t%d (%d notes)\n", r.Commands, r.Notes)
	fmt.Fprintf(tw, "\tmean\tstddev\tmin\tmax\tp95\n")
	for _, row := range []struct {
		name string
		s    Stats
	}{{"fps", r.FPS}, {"infer ms", r.InferMs}, {"energy", r.Energy}} {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			row.name, row.s.Mean, row.s.StdDev, row.s.Min, row.s.Max, row.s.P95)
	}
	fmt.Fprintf(tw, "skip changes\t%d\n", r.SkipChanges)
	fmt.Fprintf(tw, "tier changes\t%d\n", r.TierChanges)
	fmt.Fprintf(tw, "escalated\t%t\n", r.Escalated)
	return tw.Flush()
}

// RenderHTML writes an HTML page charting FPS, inference time and skip
// factor over the session.
func (r *Report) RenderHTML(w io.Writer) error {
	start := r.Session.StartedAt
	if len(r.perf) > 0 && start.IsZero() {
		start = r.perf[0].At
	}

	x := make([]string, 0, len(r.perf))
	fps := make([]opts.LineData, 0, len(r.perf))
	infer := make([]opts.LineData, 0, len(r.perf))
	skip := make([]opts.LineData, 0, len(r.perf))
	for _, p := range r.perf {
		x = append(x, fmt.Sprintf("%.1f", p.At.Sub(start).Seconds()))
		fps = append(fps, opts.LineData{Value: p.FPS})
		infer = append(infer, opts.LineData{Value: p.InferMs})
		skip = append(skip, opts.LineData{Value: p.Skip})
	}

	timing := charts.NewLine()
	timing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "posemusic session", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame rate and inference", Subtitle: r.Session.ID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "s", NameLocation: "middle", NameGap: 25}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	timing.SetXAxis(x).
		AddSeries("fps", fps).
		AddSeries("infer ms", infer)

	pacing := charts.NewLine()
	pacing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "Skip factor"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0}),
	)
	pacing.SetXAxis(x).
		AddSeries("skip", skip)

	page := components.NewPage()
	page.AddCharts(timing, pacing)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
