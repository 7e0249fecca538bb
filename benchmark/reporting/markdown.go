// Package reporting renders cache-through copy results as Markdown.
package reporting

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/discochess/chunkcache/benchmark/analysis"
)

// Run describes one copy run.
type Run struct {
	Source  string
	Dest    string
	Keys    int
	Bytes   int64
	MaxSize int64
	Policy  string
	Workers int
}

// Pass holds the measurements of one pass over every key.
type Pass struct {
	Number   int
	Duration time.Duration
	Hits     int64
	Misses   int64

	// Latencies are per-key read latencies in milliseconds.
	Latencies []float64
}

// HitRate returns the hit rate of the pass as a percentage.
func (p Pass) HitRate() float64 {
	total := p.Hits + p.Misses
	if total == 0 {
		return 0
	}
	return float64(p.Hits) / float64(total) * 100
}

// MarkdownReport generates copy reports in Markdown format.
type MarkdownReport struct {
	w io.Writer
}

// NewMarkdownReport creates a new Markdown report writer.
func NewMarkdownReport(w io.Writer) *MarkdownReport {
	return &MarkdownReport{w: w}
}

// WriteHeader writes the report header.
func (r *MarkdownReport) WriteHeader(title string) {
	fmt.Fprintf(r.w, "# %s\n\n", title)
	fmt.Fprintf(r.w, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
}

// WriteRun writes the run parameters.
func (r *MarkdownReport) WriteRun(run Run) {
	fmt.Fprintln(r.w, "## Run")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Source:** %s\n", run.Source)
	fmt.Fprintf(r.w, "- **Destination:** %s\n", run.Dest)
	fmt.Fprintf(r.w, "- **Keys:** %d (%d bytes)\n", run.Keys, run.Bytes)
	if run.MaxSize > 0 {
		fmt.Fprintf(r.w, "- **Cache:** %d bytes, %s\n", run.MaxSize, run.Policy)
	} else {
		fmt.Fprintln(r.w, "- **Cache:** unbounded")
	}
	fmt.Fprintf(r.w, "- **Workers:** %d\n", run.Workers)
	fmt.Fprintln(r.w)
}

// WritePasses writes one table row per pass.
func (r *MarkdownReport) WritePasses(passes []Pass) {
	fmt.Fprintln(r.w, "## Passes")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Pass | Duration | Hits | Misses | Hit Rate | Mean (ms) | P90 (ms) |")
	fmt.Fprintln(r.w, "|------|----------|------|--------|----------|-----------|----------|")
	for _, p := range passes {
		d := analysis.Describe(p.Latencies)
		fmt.Fprintf(r.w, "| %d | %s | %d | %d | %.1f%% | %.3f | %.3f |\n",
			p.Number, p.Duration.Round(time.Microsecond), p.Hits, p.Misses, p.HitRate(), d.Mean, d.P90)
	}
	fmt.Fprintln(r.w)
}

// WriteComparison writes the statistical comparison of the first and last pass.
func (r *MarkdownReport) WriteComparison(comp *analysis.PassComparison) {
	fmt.Fprintln(r.w, "## Cold vs Warm")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Metric | Cold | Warm |")
	fmt.Fprintln(r.w, "|--------|------|------|")
	fmt.Fprintf(r.w, "| Mean | %.3f | %.3f |\n", comp.Cold.Mean, comp.Warm.Mean)
	fmt.Fprintf(r.w, "| Median | %.3f | %.3f |\n", comp.Cold.Median, comp.Warm.Median)
	fmt.Fprintf(r.w, "| Std Dev | %.3f | %.3f |\n", comp.Cold.StdDev, comp.Warm.StdDev)
	fmt.Fprintf(r.w, "| P99 | %.3f | %.3f |\n", comp.Cold.P99, comp.Warm.P99)
	fmt.Fprintln(r.w)

	fmt.Fprintf(r.w, "- **Mann-Whitney U:** %.2f (z=%.2f, p=%.4f)\n",
		comp.MannWhitney.U, comp.MannWhitney.Z, comp.MannWhitney.PValue)
	fmt.Fprintf(r.w, "- **Effect size (Cohen's d):** %.2f (%s)\n",
		comp.EffectSize.CohensD, comp.EffectSize.Interpretation)
	if !math.IsNaN(comp.Speedup) {
		fmt.Fprintf(r.w, "- **Speedup:** %.1fx\n", comp.Speedup)
	}
	fmt.Fprintln(r.w)

	if comp.MannWhitney.Significant && comp.Warm.Mean < comp.Cold.Mean {
		fmt.Fprintf(r.w, "Warm reads are significantly faster (p < 0.05, effect size: %s).\n", comp.EffectSize.Interpretation)
	} else {
		fmt.Fprintln(r.w, "No significant difference between cold and warm reads (p >= 0.05).")
	}
	fmt.Fprintln(r.w)
}

// WriteDistributionChart writes an ASCII latency histogram.
func (r *MarkdownReport) WriteDistributionChart(name string, data []float64) {
	fmt.Fprintf(r.w, "### %s Distribution\n\n", name)
	fmt.Fprintln(r.w, "```")

	hist, lo, width := makeHistogram(data, 10)
	maxCount := 0
	for _, count := range hist {
		maxCount = max(maxCount, count)
	}

	const barWidth = 40
	for i, count := range hist {
		barLen := 0
		if maxCount > 0 {
			barLen = count * barWidth / maxCount
		}
		fmt.Fprintf(r.w, "%8.3f │ %s %d\n", lo+float64(i)*width, strings.Repeat("█", barLen), count)
	}

	fmt.Fprintln(r.w, "```")
	fmt.Fprintln(r.w)
}

// makeHistogram buckets data into equal-width buckets and returns the counts,
// the lower bound of the first bucket and the bucket width.
func makeHistogram(data []float64, buckets int) ([]int, float64, float64) {
	hist := make([]int, buckets)
	if len(data) == 0 {
		return hist, 0, 0
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	width := (hi - lo) / float64(buckets)
	if width == 0 {
		width = 1
	}

	for _, v := range data {
		bucket := int((v - lo) / width)
		if bucket >= buckets {
			bucket = buckets - 1
		}
		hist[bucket]++
	}
	return hist, lo, width
}

// WriteFooter writes the report footer.
func (r *MarkdownReport) WriteFooter() {
	fmt.Fprintln(r.w, "---")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "*Report generated by chunkcache copy*")
}
