package hypothesis

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"EdgeLab/internal/domain/models"
	svcmetrics "EdgeLab/internal/service/metrics"
	applogger "EdgeLab/pkg/logger"
)

// Generation strategy names, recorded on every hypothesis they produce.
const (
	StrategyRandomSearch = "random_search"
	StrategyMutation     = "mutation"
	StrategyEnumeration  = "enumeration"
)

// GenView is the consistent snapshot one generation cycle reads: the latest
// vector per ready symbol, mutation-eligible parents, and an Exists check
// over every predicate family the lifecycle manager still tracks. Strategies
// must treat all of it as read-only.
type GenView struct {
	Now     time.Time
	Latest  map[string]*models.FeatureVector
	Parents []*models.Hypothesis
	Exists  func(family string, threshold float64) bool
}

// SymbolsSorted returns the ready symbols in stable order.
func (v *GenView) SymbolsSorted() []string {
	syms := make([]string, 0, len(v.Latest))
	for s := range v.Latest {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Strategy proposes candidate hypotheses from a generation view. Proposals
// are independent until the lifecycle manager serializes their insertion, so
// strategies run concurrently within a cycle.
type Strategy interface {
	Name() string
	Propose(rng *rand.Rand, view *GenView, budget int) []*models.Hypothesis
}

// Generator fans one generation cycle out across the configured strategies
// and caps the combined proposals at the cycle budget.
type Generator struct {
	log        *applogger.Logger
	hist       *FeatureHistory
	strategies []Strategy
	rng        *rand.Rand
	maxHorizon int
}

// Option configures the generator.
type Option func(*Generator)

// WithSeed makes generation deterministic for tests.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithMaxHorizon bounds the prediction horizon in bars.
func WithMaxHorizon(h int) Option {
	return func(g *Generator) {
		if h >= 1 {
			g.maxHorizon = h
		}
	}
}

// WithStrategies replaces the default strategy set.
func WithStrategies(sts ...Strategy) Option {
	return func(g *Generator) { g.strategies = sts }
}

// NewGenerator creates a generator with the default closed strategy set:
// random search, template mutation and combinatorial enumeration.
func NewGenerator(log *applogger.Logger, histCapacity int, opts ...Option) *Generator {
	svcmetrics.Register()
	g := &Generator{
		log:        log,
		hist:       NewFeatureHistory(histCapacity),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		maxHorizon: 8,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.strategies == nil {
		g.strategies = []Strategy{
			&randomSearch{hist: g.hist, maxHorizon: g.maxHorizon},
			&mutation{hist: g.hist, maxHorizon: g.maxHorizon},
			&enumeration{hist: g.hist, maxHorizon: g.maxHorizon},
		}
	}
	return g
}

// Observe feeds one feature vector into the shared history.
func (g *Generator) Observe(fv *models.FeatureVector) {
	g.hist.Push(fv)
}

// Generate runs every strategy against the view, in parallel, and returns at
// most budget candidates. Candidates may still collide with the live set;
// the lifecycle manager's admission is the authoritative duplicate gate.
func (g *Generator) Generate(view *GenView, budget int) []*models.Hypothesis {
	if budget <= 0 || len(view.Latest) == 0 || len(g.strategies) == 0 {
		return nil
	}

	share := budget / len(g.strategies)
	extra := budget % len(g.strategies)

	results := make([][]*models.Hypothesis, len(g.strategies))
	var wg sync.WaitGroup
	for i, st := range g.strategies {
		b := share
		if i < extra {
			b++
		}
		if b == 0 {
			continue
		}
		seed := g.rng.Int63()
		wg.Add(1)
		go func(slot int, st Strategy, b int, seed int64) {
			defer wg.Done()
			start := time.Now()
			results[slot] = st.Propose(rand.New(rand.NewSource(seed)), view, b)
			svcmetrics.GeneratorLatency.WithLabelValues(st.Name()).Observe(time.Since(start).Seconds())
			svcmetrics.GeneratorProposed.WithLabelValues(st.Name()).Add(float64(len(results[slot])))
		}(i, st, b, seed)
	}
	wg.Wait()

	out := make([]*models.Hypothesis, 0, budget)
	for i, batch := range results {
		if len(batch) > 0 {
			g.log.Debug("strategy proposed candidates",
				applogger.String("strategy", g.strategies[i].Name()),
				applogger.Int("count", len(batch)),
			)
		}
		out = append(out, batch...)
		if len(out) >= budget {
			out = out[:budget]
			break
		}
	}
	return out
}

// newCandidate builds a CANDIDATE hypothesis with fresh statistics. Children
// never inherit parent samples; that would break the independence the
// sequential test relies on.
func newCandidate(now time.Time, symbol string, pred models.Predicate, pr models.Prediction, strategy, parentID string) *models.Hypothesis {
	return &models.Hypothesis{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Predicate:  pred,
		Prediction: pr,
		Strategy:   strategy,
		ParentID:   parentID,
		Status:     models.StatusCandidate,
		CreatedAt:  now,
		StatusAt:   now,
	}
}
