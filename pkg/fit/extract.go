package fit

import (
	"fmt"
	"sort"

	"github.com/hmartens/fieldcap/pkg/pipeline"
	"github.com/hmartens/fieldcap/pkg/stack"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// toAttoPerMicron converts capacitance per wire length from F/m to aF/um.
const toAttoPerMicron = 1e12

// minAtanPoints is the fewest samples accepted for a 4-parameter fit.
const minAtanPoints = 5

// AddRun folds one characterization run into the coefficient set.
// Single-wire runs yield area and fringe capacitance, coupled-pair runs
// the sidewall model, shielded runs the fringe-shield and partial-fringe
// models. Runs can be added in any order; later runs overwrite
// coefficients for pairs they cover again.
func (c *Coefficients) AddRun(doc *stackup.Document, res *pipeline.Result) error {
	switch res.Mode {
	case pipeline.ModeOneWire:
		return c.addFringe(doc, res.Records)
	case pipeline.ModeTwoWire:
		return c.addSidewall(res.Records)
	case pipeline.ModeShielded:
		return c.addShielded(res.Records)
	default:
		return fmt.Errorf("unknown result mode %q", res.Mode)
	}
}

// AreaCapFromStack computes the analytic plate capacitance for a metal
// over a reference conductor, in aF/um^2.
func AreaCapFromStack(doc *stackup.Document, metal, conductor string) (float64, error) {
	st, err := stack.Resolve(doc.Layers, conductor, []string{metal})
	if err != nil {
		return 0, err
	}
	return PlateCap(st)
}

// addFringe derives fringe capacitance from single-wire totals: what the
// solver reports beyond the plate component, split over the two edges.
func (c *Coefficients) addFringe(doc *stackup.Document, records []pipeline.Record) error {
	for _, group := range groupByPair(records) {
		metal, cond := group[0].Metal, group[0].Conductor
		key := Key(metal, cond)

		area, ok := c.AreaCap[key]
		if !ok {
			var err error
			area, err = AreaCapFromStack(doc, metal, cond)
			if err != nil {
				return fmt.Errorf("area cap %s over %s: %w", metal, cond, err)
			}
			c.AreaCap[key] = area
		}

		var sum float64
		for _, rec := range group {
			total := rec.Sub * toAttoPerMicron
			sum += (total - area*rec.Width) / 2
		}
		c.FringeCap[key] = sum / float64(len(group))
	}
	return nil
}

// addSidewall fits the lateral coupling model per metal. Coupling decays
// with separation regardless of the reference below, so records for all
// conductors of one metal feed a single fit.
func (c *Coefficients) addSidewall(records []pipeline.Record) error {
	byMetal := make(map[string][]pipeline.Record)
	for _, rec := range records {
		byMetal[rec.Metal] = append(byMetal[rec.Metal], rec)
	}
	for metal, group := range byMetal {
		sortBySep(group)
		seps := make([]float64, len(group))
		coups := make([]float64, len(group))
		for i, rec := range group {
			seps[i] = rec.Sep
			coups[i] = rec.Coup
		}
		mult, offset, err := FitSidewall(seps, coups)
		if err != nil {
			return fmt.Errorf("sidewall fit for %s: %w", metal, err)
		}
		c.Sidewall[metal] = [2]float64{mult, offset}
	}
	return nil
}

// addShielded fits the two shield-transition models per pair as the
// shield edge sweeps past the wire. The wire's downward capacitance
// gives the fringe-shield curve; its coupling to the shield gives the
// partial-fringe curve. The stored values are the atan shape
// parameters: slope and midpoint.
func (c *Coefficients) addShielded(records []pipeline.Record) error {
	for _, group := range groupByPair(records) {
		metal, cond := group[0].Metal, group[0].Conductor
		key := Key(metal, cond)
		sortBySep(group)
		if len(group) < minAtanPoints {
			return fmt.Errorf("%w: %d shielded samples for %s over %s", ErrInsufficientData, len(group), metal, cond)
		}

		seps := make([]float64, len(group))
		down := make([]float64, len(group))
		coup := make([]float64, len(group))
		for i, rec := range group {
			seps[i] = rec.Sep
			down[i] = rec.Sub * toAttoPerMicron
			coup[i] = rec.Coup * toAttoPerMicron
		}

		p, err := FitAtan(seps, down)
		if err != nil {
			return fmt.Errorf("fringe shield fit for %s over %s: %w", metal, cond, err)
		}
		c.FringeShield[key] = [2]float64{p[2], p[3]}

		p, err = FitAtan(seps, coup)
		if err != nil {
			return fmt.Errorf("partial fringe fit for %s over %s: %w", metal, cond, err)
		}
		c.FringePartial[key] = [2]float64{p[2], p[3]}
	}
	return nil
}

// groupByPair buckets records by metal/conductor pair, in first-seen
// order so output stays deterministic.
func groupByPair(records []pipeline.Record) [][]pipeline.Record {
	idx := make(map[string]int)
	var groups [][]pipeline.Record
	for _, rec := range records {
		key := Key(rec.Metal, rec.Conductor)
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}

func sortBySep(records []pipeline.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Sep < records[j].Sep })
}
