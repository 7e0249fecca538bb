// Package analysis provides statistical analysis of per-key read latencies
// collected over repeated passes through a cached dataset.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MannWhitneyResult contains the result of a Mann-Whitney U test.
type MannWhitneyResult struct {
	U           float64 // U statistic.
	Z           float64 // Z score (normal approximation).
	PValue      float64 // Two-tailed p-value.
	Significant bool    // True if p < 0.05.
}

// MannWhitneyU tests whether two latency samples come from different
// distributions without assuming normality.
func MannWhitneyU(sample1, sample2 []float64) *MannWhitneyResult {
	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	if n1 == 0 || n2 == 0 {
		return &MannWhitneyResult{PValue: 1}
	}

	type rankedValue struct {
		value float64
		first bool
	}
	combined := make([]rankedValue, 0, len(sample1)+len(sample2))
	for _, v := range sample1 {
		combined = append(combined, rankedValue{value: v, first: true})
	}
	for _, v := range sample2 {
		combined = append(combined, rankedValue{value: v})
	}
	sort.Slice(combined, func(i, j int) bool {
		return combined[i].value < combined[j].value
	})

	// Ties share the average of their ranks.
	var r1 float64
	for i := 0; i < len(combined); {
		j := i
		for j < len(combined) && combined[j].value == combined[i].value {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if combined[k].first {
				r1 += avgRank
			}
		}
		i = j
	}

	u1 := r1 - n1*(n1+1)/2
	u := math.Min(u1, n1*n2-u1)

	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 * (n1 + n2 + 1) / 12)
	z := 0.0
	if sigma > 0 {
		z = (u - mu) / sigma
	}
	pValue := 2 * normalCDF(-math.Abs(z))

	return &MannWhitneyResult{
		U:           u,
		Z:           z,
		PValue:      pValue,
		Significant: pValue < 0.05,
	}
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// EffectSize contains effect size metrics.
type EffectSize struct {
	CohensD        float64 // (mean1 - mean2) / pooled std.
	Interpretation string  // "negligible", "small", "medium", "large".
}

// ComputeEffectSize computes Cohen's d between two samples.
func ComputeEffectSize(sample1, sample2 []float64) *EffectSize {
	if len(sample1) < 2 || len(sample2) < 2 {
		return &EffectSize{Interpretation: "undefined"}
	}

	mean1, std1 := stat.MeanStdDev(sample1, nil)
	mean2, std2 := stat.MeanStdDev(sample2, nil)

	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	pooledStd := math.Sqrt(((n1-1)*std1*std1 + (n2-1)*std2*std2) / (n1 + n2 - 2))

	var d float64
	if pooledStd > 0 {
		d = (mean1 - mean2) / pooledStd
	}
	return &EffectSize{
		CohensD:        d,
		Interpretation: interpretCohensD(math.Abs(d)),
	}
}

func interpretCohensD(d float64) string {
	switch {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// DescriptiveStats contains basic descriptive statistics.
type DescriptiveStats struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
	P90    float64
	P99    float64
}

// Describe computes descriptive statistics for a sample.
func Describe(sample []float64) *DescriptiveStats {
	if len(sample) == 0 {
		return &DescriptiveStats{}
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return &DescriptiveStats{
		N:      len(sorted),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}

// PassComparison compares the latencies of a cold pass with a later pass over
// the same keys.
type PassComparison struct {
	Cold        *DescriptiveStats
	Warm        *DescriptiveStats
	MannWhitney *MannWhitneyResult
	EffectSize  *EffectSize
	Speedup     float64 // Cold mean over warm mean; NaN when undefined.
}

// ComparePasses compares cold and warm latency samples.
func ComparePasses(cold, warm []float64) *PassComparison {
	c := &PassComparison{
		Cold:        Describe(cold),
		Warm:        Describe(warm),
		MannWhitney: MannWhitneyU(cold, warm),
		EffectSize:  ComputeEffectSize(cold, warm),
		Speedup:     math.NaN(),
	}
	if c.Warm.N > 0 && c.Warm.Mean > 0 {
		c.Speedup = c.Cold.Mean / c.Warm.Mean
	}
	return c
}
