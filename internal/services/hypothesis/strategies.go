package hypothesis

import (
	"math"
	"math/rand"

	"EdgeLab/internal/domain/models"
)

// randomSearch samples feature-threshold combinations near recently observed
// values, so thresholds start where the market actually trades.
type randomSearch struct {
	hist       *FeatureHistory
	maxHorizon int
}

func (s *randomSearch) Name() string { return StrategyRandomSearch }

func (s *randomSearch) Propose(rng *rand.Rand, view *GenView, budget int) []*models.Hypothesis {
	syms := view.SymbolsSorted()
	if len(syms) == 0 {
		return nil
	}
	feats := models.FeatureNames()
	out := make([]*models.Hypothesis, 0, budget)
	for attempts := budget * 4; len(out) < budget && attempts > 0; attempts-- {
		sym := syms[rng.Intn(len(syms))]
		feat := feats[rng.Intn(len(feats))]
		base, ok := s.hist.Sample(rng, sym, feat)
		if !ok {
			continue
		}
		threshold := base + rng.NormFloat64()*0.25*s.hist.Sigma(sym, feat)
		op := models.OpGT
		if rng.Intn(2) == 1 {
			op = models.OpLT
		}
		pred := models.Predicate{Feature: feat, Op: op, Threshold: threshold}
		if view.Exists(pred.Family(sym), threshold) {
			continue
		}
		dir := models.DirUp
		if rng.Intn(2) == 1 {
			dir = models.DirDown
		}
		pr := models.Prediction{Direction: dir, Horizon: 1 + rng.Intn(s.maxHorizon)}
		out = append(out, newCandidate(view.Now, sym, pred, pr, s.Name(), ""))
	}
	return out
}

// mutation perturbs the threshold of a validated or active parent by a
// sigma-scaled step, clamped to three sigmas. The child records its lineage
// and starts from zero samples.
type mutation struct {
	hist       *FeatureHistory
	maxHorizon int
}

func (s *mutation) Name() string { return StrategyMutation }

func (s *mutation) Propose(rng *rand.Rand, view *GenView, budget int) []*models.Hypothesis {
	if len(view.Parents) == 0 {
		return nil
	}
	out := make([]*models.Hypothesis, 0, budget)
	for attempts := budget * 4; len(out) < budget && attempts > 0; attempts-- {
		p := view.Parents[rng.Intn(len(view.Parents))]
		sigma := s.hist.Sigma(p.Symbol, p.Predicate.Feature)
		if sigma <= 0 {
			sigma = math.Abs(p.Predicate.Threshold)*0.05 + 1e-9
		}
		step := rng.NormFloat64() * 0.5 * sigma
		if step > 3*sigma {
			step = 3 * sigma
		} else if step < -3*sigma {
			step = -3 * sigma
		}
		if step == 0 {
			continue
		}
		pred := models.Predicate{
			Feature:   p.Predicate.Feature,
			Op:        p.Predicate.Op,
			Threshold: p.Predicate.Threshold + step,
		}
		if view.Exists(pred.Family(p.Symbol), pred.Threshold) {
			continue
		}
		horizon := p.Prediction.Horizon
		if rng.Float64() < 0.2 {
			if rng.Intn(2) == 0 {
				horizon++
			} else {
				horizon--
			}
			if horizon < 1 {
				horizon = 1
			}
			if horizon > s.maxHorizon {
				horizon = s.maxHorizon
			}
		}
		pr := models.Prediction{Direction: p.Prediction.Direction, Horizon: horizon}
		out = append(out, newCandidate(view.Now, p.Symbol, pred, pr, s.Name(), p.ID))
	}
	return out
}

// enumeration sweeps the combinatorial grid of symbol, feature, operator,
// threshold quantile, direction and horizon. The cursor survives across
// cycles so successive budgets keep walking the grid instead of restarting.
// Only one generation cycle runs at a time, which keeps the cursor unshared.
type enumeration struct {
	hist       *FeatureHistory
	maxHorizon int
	cursor     int
}

var enumQuantiles = []float64{0.2, 0.4, 0.6, 0.8}

func (s *enumeration) Name() string { return StrategyEnumeration }

func (s *enumeration) Propose(rng *rand.Rand, view *GenView, budget int) []*models.Hypothesis {
	syms := view.SymbolsSorted()
	if len(syms) == 0 {
		return nil
	}
	feats := models.FeatureNames()
	ops := []models.Op{models.OpGT, models.OpLT}
	dirs := []models.Direction{models.DirUp, models.DirDown}
	horizons := enumHorizons(s.maxHorizon)

	total := len(syms) * len(feats) * len(ops) * len(enumQuantiles) * len(dirs) * len(horizons)
	out := make([]*models.Hypothesis, 0, budget)
	for tried := 0; len(out) < budget && tried < total; tried++ {
		i := s.cursor % total
		s.cursor++

		sym := syms[i%len(syms)]
		i /= len(syms)
		feat := feats[i%len(feats)]
		i /= len(feats)
		op := ops[i%len(ops)]
		i /= len(ops)
		q := enumQuantiles[i%len(enumQuantiles)]
		i /= len(enumQuantiles)
		dir := dirs[i%len(dirs)]
		i /= len(dirs)
		horizon := horizons[i%len(horizons)]

		threshold, ok := s.hist.Quantile(sym, feat, q)
		if !ok {
			continue
		}
		pred := models.Predicate{Feature: feat, Op: op, Threshold: threshold}
		if view.Exists(pred.Family(sym), threshold) {
			continue
		}
		pr := models.Prediction{Direction: dir, Horizon: horizon}
		out = append(out, newCandidate(view.Now, sym, pred, pr, s.Name(), ""))
	}
	return out
}

func enumHorizons(max int) []int {
	base := []int{1, 2, 4, 8}
	out := base[:0:0]
	for _, h := range base {
		if h <= max {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}
