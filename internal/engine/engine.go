package engine

// timeLayout is the timestamp format used across engine output tables.
const timeLayout = "2006-01-02T15:04:05Z07:00"

// DirScore is the {direction, score} shape shared by the on-chain and
// sentiment signal providers feeding the scorer.
type DirScore struct {
	Direction string  // BULLISH, BEARISH or NEUTRAL
	Score     float64 // 0..1 conviction
}
