// Package report renders collected kernel statistics: a sorted per-kernel
// table for humans and a Chrome trace-event JSON file for timeline viewers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"

	"github.com/mschilling0/pti-gpu/internal/aggregate"
)

// Row is one table line, enriched with duration quantiles when the interval
// timeline is available.
type Row struct {
	Name        string
	Calls       uint64
	Width       uint32
	TotalNS     uint64
	Percent     float64
	AvgNS       uint64
	MinNS       uint64
	MaxNS       uint64
	P50NS       float64
	P95NS       float64
	HasQuantile bool
}

// BuildRows flattens a snapshot into table rows sorted by total time, then
// call count, descending.
func BuildRows(snap aggregate.Snapshot) []Row {
	var totalDuration uint64
	for _, s := range snap.Stats {
		totalDuration += s.TotalTimeNS
	}

	durations := make(map[string][]float64)
	for _, iv := range snap.Intervals {
		durations[iv.Name] = append(durations[iv.Name], float64(iv.EndNS-iv.StartNS))
	}

	rows := make([]Row, 0, len(snap.Stats))
	for name, s := range snap.Stats {
		row := Row{
			Name:    name,
			Calls:   s.CallCount,
			Width:   s.MaxWidth,
			TotalNS: s.TotalTimeNS,
			AvgNS:   s.AvgTimeNS(),
			MinNS:   s.MinTimeNS,
			MaxNS:   s.MaxTimeNS,
		}
		if totalDuration > 0 {
			row.Percent = 100 * float64(s.TotalTimeNS) / float64(totalDuration)
		}
		// Width-bucketed stats keys ("name/width") have no interval entry;
		// quantiles are reported only where the timeline matches the key.
		if durs := durations[name]; len(durs) > 0 {
			sort.Float64s(durs)
			row.P50NS = stat.Quantile(0.5, stat.Empirical, durs, nil)
			row.P95NS = stat.Quantile(0.95, stat.Empirical, durs, nil)
			row.HasQuantile = true
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalNS != rows[j].TotalNS {
			return rows[i].TotalNS > rows[j].TotalNS
		}
		if rows[i].Calls != rows[j].Calls {
			return rows[i].Calls > rows[j].Calls
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// WriteTable renders the rows. An empty snapshot writes nothing, matching
// the upstream tool.
func WriteTable(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Kernel\tCalls\tSIMD\tTime (ns)\tTime (%)\tAverage (ns)\tMin (ns)\tMax (ns)\tp50 (ns)\tp95 (ns)\t")
	for _, r := range rows {
		p50, p95 := "-", "-"
		if r.HasQuantile {
			p50 = fmt.Sprintf("%.0f", r.P50NS)
			p95 = fmt.Sprintf("%.0f", r.P95NS)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%d\t%d\t%d\t%s\t%s\t\n",
			r.Name, r.Calls, r.Width, r.TotalNS, r.Percent, r.AvgNS, r.MinNS, r.MaxNS, p50, p95)
	}
	return tw.Flush()
}

// chromeTraceEvent is one complete ("X") event in the Chrome trace-event
// format.
type chromeTraceEvent struct {
	Phase    string `json:"ph"`
	PID      int    `json:"pid"`
	TID      int    `json:"tid"`
	Name     string `json:"name"`
	StartNS  uint64 `json:"ts"`
	Duration uint64 `json:"dur"`
}

type chromeTrace struct {
	DisplayTimeUnit string             `json:"displayTimeUnit"`
	TraceEvents     []chromeTraceEvent `json:"traceEvents"`
}

// WriteChromeTrace exports the interval timeline as Chrome trace-event JSON,
// loadable in about:tracing and Perfetto.
func WriteChromeTrace(w io.Writer, snap aggregate.Snapshot, pid int) error {
	out := chromeTrace{
		DisplayTimeUnit: "ns",
		TraceEvents:     make([]chromeTraceEvent, 0, len(snap.Intervals)),
	}
	for _, iv := range snap.Intervals {
		out.TraceEvents = append(out.TraceEvents, chromeTraceEvent{
			Phase:    "X",
			PID:      pid,
			TID:      pid,
			Name:     iv.Name,
			StartNS:  iv.StartNS,
			Duration: iv.EndNS - iv.StartNS,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
