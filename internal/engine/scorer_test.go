package engine

import (
	"context"
	"testing"
	"time"

	"cascade-trader/internal/ai/sentiment"
	"cascade-trader/internal/database"
	"cascade-trader/internal/onchain"
)

type stubOnchain struct {
	whale   onchain.WhaleSignal
	netflow onchain.NetflowSignal
	mvrv    onchain.MVRVSignal
}

func (s stubOnchain) WhaleDirection(ctx context.Context, symbol string, window time.Duration) (*onchain.WhaleSignal, error) {
	w := s.whale
	return &w, nil
}

func (s stubOnchain) Netflow(ctx context.Context, symbol string) (*onchain.NetflowSignal, error) {
	n := s.netflow
	return &n, nil
}

func (s stubOnchain) MVRV(ctx context.Context) (*onchain.MVRVSignal, error) {
	m := s.mvrv
	return &m, nil
}

type stubNarrative struct {
	result sentiment.MajorityResult
	calls  int
}

func (s *stubNarrative) AnalyzeMajority(ctx context.Context, symbol string, calls int) (*sentiment.MajorityResult, error) {
	s.calls++
	r := s.result
	return &r, nil
}

func neutralOnchain() stubOnchain {
	return stubOnchain{
		whale:   onchain.WhaleSignal{Direction: "neutral"},
		netflow: onchain.NetflowSignal{Direction: "neutral"},
		mvrv:    onchain.MVRVSignal{Signal: "no_data"},
	}
}

func seedThreshold(t *testing.T, repo *database.Repository, trigger bool, direction string) {
	t.Helper()
	sig := &database.ThresholdSignal{
		Symbol: testSymbol, TriggerActive: trigger, CalculatedAt: "2026-01-10T12:00:00Z",
	}
	if direction != "" {
		sig.Direction.String = direction
		sig.Direction.Valid = true
	}
	if err := repo.InsertThresholdSignal(context.Background(), sig); err != nil {
		t.Fatalf("seed threshold: %v", err)
	}
}

func seedFearGreed(t *testing.T, repo *database.Repository, value int) {
	t.Helper()
	err := repo.InsertFearGreed(context.Background(), &database.FearGreed{
		Value: value, FGTimestamp: 1767960000, CollectedAt: "2026-01-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed fear/greed: %v", err)
	}
}

func TestScorerAllQuiet(t *testing.T) {
	repo := newEngineRepo(t)
	narrative := &stubNarrative{}
	s := NewScorer(repo, testClock(), neutralOnchain(), narrative)

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if score.TotalScore != 0 {
		t.Errorf("total = %.2f, want 0 with no data", score.TotalScore)
	}
	if score.Direction != database.DirectionNeutral {
		t.Errorf("direction = %s, want NEUTRAL", score.Direction)
	}
	if narrative.calls != 0 {
		t.Error("narrative consulted without an active trigger")
	}
}

func TestScorerWhaleOutflowIsBullish(t *testing.T) {
	repo := newEngineRepo(t)
	oc := neutralOnchain()
	oc.whale = onchain.WhaleSignal{
		Direction: "exchange_outflow", NetFlowUSD: -20_000_000, TxCount: 4, Score: 1.0,
	}
	s := NewScorer(repo, testClock(), oc, &stubNarrative{})

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if score.MomentumScore != 1.0 {
		t.Errorf("momentum = %.2f, want 1.0", score.MomentumScore)
	}
	if score.Direction != database.DirectionBullish {
		t.Errorf("direction = %s, want BULLISH on exchange outflow", score.Direction)
	}
}

func TestScorerMomentumIsCapped(t *testing.T) {
	repo := newEngineRepo(t)
	oc := neutralOnchain()
	oc.whale = onchain.WhaleSignal{Direction: "exchange_outflow", TxCount: 3, Score: 1.0}
	oc.netflow = onchain.NetflowSignal{Direction: "outflow", Trend: "increasing_outflow", Score: 1.0}
	s := NewScorer(repo, testClock(), oc, &stubNarrative{})

	// 30 days of flat volume, then a 2x day for the volume bonus.
	for i := 0; i < 29; i++ {
		seedDaily(t, repo, int64(i)*86_400_000, 100, 110, 90, 100, 100)
	}
	seedDaily(t, repo, 29*86_400_000, 100, 110, 90, 100, 200)

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 1.0 + 1.0 + 0.5 clamps at the component cap.
	if score.MomentumScore != momentumCap {
		t.Errorf("momentum = %.2f, want capped at %.1f", score.MomentumScore, momentumCap)
	}
}

func TestScorerContrarianFear(t *testing.T) {
	repo := newEngineRepo(t)
	s := NewScorer(repo, testClock(), neutralOnchain(), &stubNarrative{})
	seedFearGreed(t, repo, 15) // extreme fear

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if score.SentimentScore != 1.0 {
		t.Errorf("sentiment = %.2f, want 1.0 at extreme fear", score.SentimentScore)
	}
	if score.Direction != database.DirectionBullish {
		t.Errorf("direction = %s, extreme fear is contrarian bullish", score.Direction)
	}
}

func TestScorerStoryGatedOnTrigger(t *testing.T) {
	repo := newEngineRepo(t)
	narrative := &stubNarrative{result: sentiment.MajorityResult{
		Sentiment: "bullish", Confidence: 0.8, Agreement: 1.0,
		Votes: map[string]int{"bullish": 3}, CallsUsed: 3,
	}}
	s := NewScorer(repo, testClock(), neutralOnchain(), narrative)
	seedThreshold(t, repo, true, database.CascadeShort)

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !score.TriggerActive {
		t.Fatal("trigger flag not carried into the score")
	}
	if narrative.calls != 1 {
		t.Fatalf("narrative calls = %d, want 1", narrative.calls)
	}
	if score.StoryScore != 1.0 {
		t.Errorf("story = %.2f, want agreement * 1.0", score.StoryScore)
	}
	if score.LLMCallsUsed != 3 {
		t.Errorf("llm calls = %d, want 3", score.LLMCallsUsed)
	}
	if score.Direction != database.DirectionBullish {
		t.Errorf("direction = %s, want BULLISH from the story vote", score.Direction)
	}
}

func TestScorerCascadeBreaksNeutralTie(t *testing.T) {
	repo := newEngineRepo(t)
	s := NewScorer(repo, testClock(), neutralOnchain(), &sentiment.Neutral{})
	seedThreshold(t, repo, true, database.CascadeShort)

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// All components neutral: the active short cascade decides.
	if score.Direction != database.DirectionBullish {
		t.Errorf("direction = %s, a short cascade squeezes price up", score.Direction)
	}
}

func TestScorerTotalCapped(t *testing.T) {
	repo := newEngineRepo(t)
	oc := stubOnchain{
		whale:   onchain.WhaleSignal{Direction: "exchange_outflow", TxCount: 5, Score: 1.0},
		netflow: onchain.NetflowSignal{Direction: "outflow", Trend: "increasing_outflow", Score: 1.0},
		mvrv:    onchain.MVRVSignal{MVRV: 0.8, Signal: "undervalued", Score: 0.5},
	}
	narrative := &stubNarrative{result: sentiment.MajorityResult{
		Sentiment: "bullish", Agreement: 1.0, Votes: map[string]int{"bullish": 3}, CallsUsed: 3,
	}}
	s := NewScorer(repo, testClock(), oc, narrative)
	seedThreshold(t, repo, true, database.CascadeShort)
	seedFearGreed(t, repo, 10)
	for i := 0; i < 29; i++ {
		seedDaily(t, repo, int64(i)*86_400_000, 100, 110, 90, 100, 100)
	}
	seedDaily(t, repo, 29*86_400_000, 100, 110, 90, 100, 500)

	score, err := s.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if score.TotalScore > totalScoreCap {
		t.Errorf("total = %.2f, must not exceed %.1f", score.TotalScore, totalScoreCap)
	}
	if score.ScoreDetail.String == "" {
		t.Error("score detail breakdown missing")
	}
}
