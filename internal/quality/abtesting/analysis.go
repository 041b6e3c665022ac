package abtesting

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/inframind/platform/internal/store"
)

// normalCDF is the Abramowitz & Stegun closed-form approximation (7.1.26)
// of the standard normal cumulative distribution, accurate to ~1e-7.
func normalCDF(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	x /= math.Sqrt2

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return 0.5 * (1.0 + sign*y)
}

// twoProportionZTest returns the z-score and two-tailed p-value for
// comparing conversion counts between two samples.
func twoProportionZTest(conv1, n1, conv2, n2 int) (z, p float64) {
	if n1 == 0 || n2 == 0 {
		return 0, 1
	}
	p1 := float64(conv1) / float64(n1)
	p2 := float64(conv2) / float64(n2)
	pooled := float64(conv1+conv2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 0, 1
	}
	z = (p2 - p1) / se
	p = 2 * (1 - normalCDF(math.Abs(z)))
	return z, p
}

func significanceOf(p float64) Significance {
	switch {
	case p < 0.01:
		return HighlySignificant
	case p < 0.05:
		return Significant
	case p < 0.10:
		return MarginallySig
	default:
		return NotSignificant
	}
}

// confidenceInterval is the normal-approximation 95% interval for a
// proportion, clipped to [0,1].
func confidenceInterval(conversions, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(conversions) / float64(n)
	margin := 1.96 * math.Sqrt(p*(1-p)/float64(n))
	return math.Max(0, p-margin), math.Min(1, p+margin)
}

// AnalyzeExperiment computes per-variant conversion statistics on the primary
// metric and z-tests each treatment against the control.
func (f *Framework) AnalyzeExperiment(ctx context.Context, experimentID string) (*Analysis, error) {
	exp, err := f.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	primary := exp.PrimaryMetric()
	control := exp.ControlVariant()
	if primary == "" || control == nil {
		return nil, fmt.Errorf("experiment %s has no primary metric or control", experimentID)
	}

	assignDocs, err := f.store.Collection(store.ExperimentAssignments).Find(ctx,
		store.Filter{"experiment_id": experimentID}, nil)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	assignments, err := store.DecodeAll[Assignment](assignDocs)
	if err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}

	eventDocs, err := f.store.Collection(store.ExperimentEvents).Find(ctx,
		store.Filter{"experiment_id": experimentID, "event_name": primary}, nil)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events, err := store.DecodeAll[Event](eventDocs)
	if err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	sampleByVariant := map[string]int{}
	for _, a := range assignments {
		sampleByVariant[a.VariantID]++
	}
	converted := map[string]map[string]bool{} // variant -> user set
	for _, e := range events {
		if converted[e.VariantID] == nil {
			converted[e.VariantID] = map[string]bool{}
		}
		converted[e.VariantID][e.UserID] = true
	}

	analysis := &Analysis{
		ExperimentID:  experimentID,
		PrimaryMetric: primary,
		AnalyzedAt:    time.Now(),
	}

	statsByVariant := map[string]VariantStats{}
	for _, v := range exp.Variants {
		n := sampleByVariant[v.ID]
		conv := len(converted[v.ID])
		vs := VariantStats{
			VariantID:   v.ID,
			IsControl:   v.IsControl,
			SampleSize:  n,
			Conversions: conv,
		}
		if n > 0 {
			vs.ConversionRate = float64(conv) / float64(n)
		}
		vs.IntervalLow, vs.IntervalHigh = confidenceInterval(conv, n)
		statsByVariant[v.ID] = vs
		analysis.Variants = append(analysis.Variants, vs)
	}

	controlStats := statsByVariant[control.ID]
	var best *Comparison
	var bestRate float64
	for _, v := range exp.Variants {
		if v.IsControl {
			continue
		}
		vs := statsByVariant[v.ID]
		z, p := twoProportionZTest(controlStats.Conversions, controlStats.SampleSize, vs.Conversions, vs.SampleSize)
		cmp := Comparison{
			VariantID:    v.ID,
			ZScore:       z,
			PValue:       p,
			Significance: significanceOf(p),
			Improvement:  vs.ConversionRate - controlStats.ConversionRate,
		}
		analysis.Comparisons = append(analysis.Comparisons, cmp)
		if vs.ConversionRate > bestRate {
			bestRate = vs.ConversionRate
			c := cmp
			best = &c
		}
	}

	// recommend the winner only when its lift over control is significant
	switch {
	case best != nil && best.Improvement > 0 &&
		(best.Significance == Significant || best.Significance == HighlySignificant):
		analysis.Recommendation = fmt.Sprintf(
			"adopt variant %s: %.1f%% lift over control (p=%.4f)",
			best.VariantID, best.Improvement*100, best.PValue)
	default:
		analysis.Recommendation = "no significant winner yet; collect more data"
	}
	return analysis, nil
}
