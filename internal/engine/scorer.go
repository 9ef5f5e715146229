package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/ai/sentiment"
	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
	"cascade-trader/internal/onchain"
)

const (
	momentumCap   = 2.0
	sentimentCap  = 1.5
	storyCap      = 1.0
	valueCap      = 0.5
	totalScoreCap = 5.0

	volumeBonusRatio = 1.3
	whaleWindow      = 6 * time.Hour
	storyCalls       = 3
)

// OnchainSource feeds the momentum and value components.
type OnchainSource interface {
	WhaleDirection(ctx context.Context, symbol string, window time.Duration) (*onchain.WhaleSignal, error)
	Netflow(ctx context.Context, symbol string) (*onchain.NetflowSignal, error)
	MVRV(ctx context.Context) (*onchain.MVRVSignal, error)
}

// Scorer computes the composite conviction score: momentum (whale flow,
// netflow, volume), crowd sentiment (fear & greed, positioning), LLM
// narrative (gated on the cascade trigger) and valuation.
type Scorer struct {
	repo      *database.Repository
	clock     clock.Clock
	onchain   OnchainSource
	narrative sentiment.Analyzer
	log       zerolog.Logger
}

func NewScorer(repo *database.Repository, clk clock.Clock, oc OnchainSource, narrative sentiment.Analyzer) *Scorer {
	return &Scorer{repo: repo, clock: clk, onchain: oc, narrative: narrative, log: logging.Component("scorer")}
}

// Run computes and stores the score for one symbol.
func (s *Scorer) Run(ctx context.Context, symbol string) (*database.SSMScore, error) {
	detail := map[string]interface{}{}
	bullish, bearish := 0, 0

	threshold, err := s.repo.LatestThresholdSignal(ctx, symbol)
	if err != nil && !database.IsNoRows(err) {
		return nil, fmt.Errorf("latest threshold: %w", err)
	}
	trigger := threshold != nil && threshold.TriggerActive
	detail["trigger"] = map[string]interface{}{"active": trigger}

	mScore, mDir, mDetail := s.scoreMomentum(ctx, symbol)
	detail["momentum"] = mDetail
	countVote(mDir, &bullish, &bearish)

	sScore, sDir, sDetail := s.scoreSentiment(ctx, symbol)
	detail["sentiment"] = sDetail
	countVote(sDir, &bullish, &bearish)

	var storyScore float64
	llmCalls := 0
	if trigger {
		story, err := s.narrative.AnalyzeMajority(ctx, symbol, storyCalls)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("narrative analysis failed")
			detail["story"] = map[string]interface{}{"score": 0.0, "error": err.Error()}
		} else {
			llmCalls = story.CallsUsed
			storyScore = round2(story.Agreement * storyCap)
			detail["story"] = map[string]interface{}{
				"score": storyScore, "sentiment": story.Sentiment,
				"agreement": story.Agreement, "votes": story.Votes,
				"budget_exceeded": story.BudgetExceeded,
			}
			countVote(story.Sentiment, &bullish, &bearish)
		}
	} else {
		detail["story"] = map[string]interface{}{"score": 0.0, "reason": "trigger_inactive"}
	}

	vScore, vDetail := s.scoreValue(ctx)
	detail["value"] = vDetail

	total := math.Min(totalScoreCap, round2(mScore+sScore+storyScore+vScore))

	direction := database.DirectionNeutral
	if bullish > bearish {
		direction = database.DirectionBullish
	} else if bearish > bullish {
		direction = database.DirectionBearish
	}
	// An active cascade breaks a neutral tie: a short squeeze pushes
	// price up, a long cascade pushes it down.
	if direction == database.DirectionNeutral && threshold != nil && threshold.Direction.Valid {
		switch threshold.Direction.String {
		case database.CascadeShort:
			direction = database.DirectionBullish
		case database.CascadeLong:
			direction = database.DirectionBearish
		}
	}

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal score detail: %w", err)
	}

	score := &database.SSMScore{
		Symbol:         symbol,
		TriggerActive:  trigger,
		MomentumScore:  mScore,
		SentimentScore: sScore,
		StoryScore:     storyScore,
		ValueScore:     vScore,
		TotalScore:     total,
		Direction:      direction,
		ScoreDetail:    sql.NullString{String: string(detailJSON), Valid: true},
		LLMCallsUsed:   llmCalls,
		CalculatedAt:   s.clock.Now().Format(timeLayout),
	}
	if err := s.repo.InsertSSMScore(ctx, score); err != nil {
		return nil, fmt.Errorf("store score: %w", err)
	}

	s.log.Info().Str("symbol", symbol).Bool("trigger", trigger).
		Float64("total", total).Str("direction", direction).Msg("score updated")
	return score, nil
}

func countVote(dir string, bullish, bearish *int) {
	switch dir {
	case "bullish", database.DirectionBullish:
		*bullish++
	case "bearish", database.DirectionBearish:
		*bearish++
	}
}

// scoreMomentum combines whale flow, exchange netflow and a volume bonus.
func (s *Scorer) scoreMomentum(ctx context.Context, symbol string) (float64, string, map[string]interface{}) {
	score := 0.0
	direction := "neutral"
	detail := map[string]interface{}{"max": momentumCap}

	whale, err := s.onchain.WhaleDirection(ctx, symbol, whaleWindow)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("whale signal failed")
	} else if whale.TxCount > 0 {
		score += whale.Score
		switch whale.Direction {
		case "exchange_outflow":
			direction = "bullish"
		case "exchange_inflow":
			direction = "bearish"
		}
		detail["whale"] = map[string]interface{}{
			"score": whale.Score, "direction": whale.Direction,
			"net_flow_usd": whale.NetFlowUSD, "tx_count": whale.TxCount,
		}
	} else {
		detail["whale"] = map[string]interface{}{"score": 0.0, "status": "no_data"}
	}

	netflow, err := s.onchain.Netflow(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("netflow signal failed")
	} else if netflow.Direction != "neutral" {
		score += netflow.Score
		if direction == "neutral" {
			if netflow.Direction == "outflow" {
				direction = "bullish"
			} else {
				direction = "bearish"
			}
		}
		detail["netflow"] = map[string]interface{}{
			"score": netflow.Score, "direction": netflow.Direction, "trend": netflow.Trend,
		}
	} else {
		detail["netflow"] = map[string]interface{}{"score": 0.0, "status": "no_data"}
	}

	if vols, err := s.repo.DailyVolumes(ctx, symbol, volumeLookbackDays); err == nil && len(vols) >= 2 {
		var sum float64
		for _, v := range vols {
			sum += v
		}
		avg := sum / float64(len(vols))
		ratio := 1.0
		if avg > 0 {
			ratio = vols[0] / avg
		}
		if ratio >= volumeBonusRatio {
			score += 0.5
			detail["volume"] = map[string]interface{}{"score": 0.5, "ratio": round2(ratio)}
		} else {
			detail["volume"] = map[string]interface{}{"score": 0.0, "ratio": round2(ratio)}
		}
	} else {
		detail["volume"] = map[string]interface{}{"score": 0.0, "status": "insufficient_data"}
	}

	score = math.Min(momentumCap, score)
	detail["total"] = score
	detail["direction"] = direction
	return score, direction, detail
}

// scoreSentiment combines the fear & greed index with crowd positioning.
func (s *Scorer) scoreSentiment(ctx context.Context, symbol string) (float64, string, map[string]interface{}) {
	score := 0.0
	direction := "neutral"
	detail := map[string]interface{}{"max": sentimentCap}

	if fg, err := s.repo.LatestFearGreed(ctx); err == nil {
		switch {
		case fg.Value <= 25: // extreme fear, contrarian bullish
			score += 1.0
			direction = "bullish"
			detail["fear_greed"] = map[string]interface{}{"score": 1.0, "value": fg.Value}
		case fg.Value <= 40:
			score += 0.5
			direction = "bullish"
			detail["fear_greed"] = map[string]interface{}{"score": 0.5, "value": fg.Value}
		case fg.Value >= 76: // extreme greed, contrarian bearish
			score += 1.0
			direction = "bearish"
			detail["fear_greed"] = map[string]interface{}{"score": 1.0, "value": fg.Value}
		case fg.Value >= 61:
			score += 0.5
			direction = "bearish"
			detail["fear_greed"] = map[string]interface{}{"score": 0.5, "value": fg.Value}
		default:
			detail["fear_greed"] = map[string]interface{}{"score": 0.0, "value": fg.Value}
		}
	} else {
		detail["fear_greed"] = map[string]interface{}{"score": 0.0, "status": "no_data"}
	}

	if ls, err := s.repo.LatestLongShort(ctx, symbol); err == nil {
		switch {
		case ls.LongAccount >= 0.75: // crowded long
			score += 0.5
			if direction == "neutral" {
				direction = "bearish"
			}
			detail["long_short"] = map[string]interface{}{"score": 0.5, "long_pct": ls.LongAccount}
		case ls.LongAccount <= 0.25: // crowded short
			score += 0.5
			if direction == "neutral" {
				direction = "bullish"
			}
			detail["long_short"] = map[string]interface{}{"score": 0.5, "long_pct": ls.LongAccount}
		default:
			detail["long_short"] = map[string]interface{}{"score": 0.0, "long_pct": ls.LongAccount}
		}
	} else {
		detail["long_short"] = map[string]interface{}{"score": 0.0, "status": "no_data"}
	}

	score = math.Min(sentimentCap, score)
	detail["total"] = score
	detail["direction"] = direction
	return score, direction, detail
}

// scoreValue maps MVRV valuation into the score. Valuation never votes
// on direction.
func (s *Scorer) scoreValue(ctx context.Context) (float64, map[string]interface{}) {
	detail := map[string]interface{}{"max": valueCap}

	mvrv, err := s.onchain.MVRV(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("mvrv signal failed")
		detail["mvrv"] = map[string]interface{}{"score": 0.0, "status": "error"}
		return 0, detail
	}

	score := math.Min(valueCap, mvrv.Score)
	detail["mvrv"] = map[string]interface{}{"score": mvrv.Score, "value": mvrv.MVRV, "signal": mvrv.Signal}
	detail["total"] = score
	return score, detail
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
