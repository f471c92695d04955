package usecase

import (
	"math"
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
	hypo "EdgeLab/internal/services/hypothesis"
)

// evalHarness builds a manager and evaluator pair sharing one sequential
// test, with the update workers already running.
func evalHarness(t *testing.T, cfg LifecycleConfig) (*LifecycleManager, *hypo.SPRT, *Evaluator) {
	t.Helper()
	mgr, test := testManager(t, cfg)
	eval := NewEvaluator(testLogger(t), nopMetrics{}, mgr, test, time.Minute, EvaluatorConfig{Workers: 2, QueueSize: 64})
	eval.Start()
	return mgr, test, eval
}

func firingVector(symbol string, at time.Time) *models.FeatureVector {
	return &models.FeatureVector{
		Symbol:    symbol,
		Timestamp: at,
		Values:    map[string]float64{models.FeatRet1: 0.02},
	}
}

func evalBar(symbol string, at time.Time, cls float64) *models.Observation {
	return &models.Observation{
		Symbol:    symbol,
		Timestamp: at,
		Open:      cls,
		High:      cls * 1.001,
		Low:       cls * 0.999,
		Close:     cls,
		Volume:    1,
	}
}

func TestEvaluatorSampleCountMatchesResolved(t *testing.T) {
	mgr, _, eval := evalHarness(t, defaultLifecycleConfig())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mgr.Admit([]*models.Hypothesis{candidate("e1", "BTCUSDT", models.FeatRet1, 0.01)}, base)
	tr, ok := mgr.Lookup("e1")
	if !ok {
		t.Fatal("admitted hypothesis not tracked")
	}

	// Ten bars, each arming one prediction with horizon 2. Bars 2 through 9
	// resolve the prediction armed two bars earlier, so two stay outstanding.
	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		cls := 100 * math.Pow(1.01, float64(i))
		eval.OnObservation(evalBar("BTCUSDT", at, cls), firingVector("BTCUSDT", at))
	}
	if got := eval.PendingCount(); got != 2 {
		t.Errorf("pending after run = %d, want 2", got)
	}

	eval.Stop()

	st := tr.snapshot().Stats
	if st.N != 8 {
		t.Errorf("samples = %d, want one per resolved prediction (8)", st.N)
	}
	if st.Wins != 8 {
		t.Errorf("wins = %d, want 8 on a rising close", st.Wins)
	}
	if st.Mean <= 0 {
		t.Errorf("mean outcome = %v, want positive", st.Mean)
	}
}

func TestEvaluatorArmsOnFiringPredicate(t *testing.T) {
	mgr, _, eval := evalHarness(t, defaultLifecycleConfig())
	defer eval.Stop()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mgr.Admit([]*models.Hypothesis{candidate("e1", "BTCUSDT", models.FeatRet1, 0.01)}, base)
	tr, _ := mgr.Lookup("e1")

	quiet := &models.FeatureVector{
		Symbol:    "BTCUSDT",
		Timestamp: base,
		Values:    map[string]float64{models.FeatRet1: 0.005},
	}
	eval.OnObservation(evalBar("BTCUSDT", base, 100), quiet)
	if got := eval.PendingCount(); got != 0 {
		t.Fatalf("pending = %d after a non-firing vector, want 0", got)
	}
	if got := tr.snapshot().Status; got != models.StatusCandidate {
		t.Fatalf("status = %s after a non-firing vector, want CANDIDATE", got)
	}

	at := base.Add(time.Minute)
	eval.OnObservation(evalBar("BTCUSDT", at, 101), firingVector("BTCUSDT", at))
	if got := eval.PendingCount(); got != 1 {
		t.Fatalf("pending = %d after a firing vector, want 1", got)
	}
	if got := tr.snapshot().Status; got != models.StatusTesting {
		t.Errorf("status = %s after the first armed prediction, want TESTING", got)
	}
}

func TestEvaluatorDownPredictionWinsOnFall(t *testing.T) {
	mgr, _, eval := evalHarness(t, defaultLifecycleConfig())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	h := candidate("down1", "BTCUSDT", models.FeatRet1, 0.01)
	h.Prediction = models.Prediction{Direction: models.DirDown, Horizon: 1}
	mgr.Admit([]*models.Hypothesis{h}, base)
	tr, _ := mgr.Lookup("down1")

	eval.OnObservation(evalBar("BTCUSDT", base, 100), firingVector("BTCUSDT", base))
	// The feature window is warming up on the next bar; resolution needs only
	// the close, so the due prediction still scores against a nil vector.
	eval.OnObservation(evalBar("BTCUSDT", base.Add(time.Minute), 90), nil)
	eval.Stop()

	st := tr.snapshot().Stats
	if st.N != 1 || st.Wins != 1 {
		t.Fatalf("n=%d wins=%d, want 1/1", st.N, st.Wins)
	}
	want := -math.Log(90.0 / 100.0)
	if math.Abs(st.Mean-want) > 1e-12 {
		t.Errorf("outcome = %v, want %v", st.Mean, want)
	}
}

func TestEvaluatorSkipsPendingsOfTerminalHypotheses(t *testing.T) {
	mgr, test, eval := evalHarness(t, defaultLifecycleConfig())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mgr.Admit([]*models.Hypothesis{candidate("gone", "BTCUSDT", models.FeatRet1, 0.01)}, base)
	tr, _ := mgr.Lookup("gone")

	eval.OnObservation(evalBar("BTCUSDT", base, 100), firingVector("BTCUSDT", base))
	if got := eval.PendingCount(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	// Reject the hypothesis while its prediction is still in flight.
	at := base
	for i := 0; i < 16 && tr.snapshot().Status != models.StatusRejected; i++ {
		at = at.Add(time.Second)
		applyOutcome(mgr, test, tr, -0.01, false, at)
	}
	if got := tr.snapshot().Status; got != models.StatusRejected {
		t.Fatalf("status = %s after a loss streak, want REJECTED", got)
	}
	if _, ok := mgr.Lookup("gone"); ok {
		t.Fatal("terminal hypothesis still tracked as live")
	}
	nBefore := tr.snapshot().Stats.N

	// The due bar surfaces the stale pending; it resolves to nothing.
	eval.OnObservation(evalBar("BTCUSDT", base.Add(2*time.Minute), 120), nil)
	if got := eval.PendingCount(); got != 0 {
		t.Errorf("pending = %d after the stale resolve, want 0", got)
	}
	eval.Stop()

	if got := tr.snapshot().Stats.N; got != nBefore {
		t.Errorf("stats advanced on a terminal hypothesis: n %d -> %d", nBefore, got)
	}
}
