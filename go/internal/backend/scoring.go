package backend

const (
	BasePoints    = 100
	MaxSpeedBonus = 50
)

// Score awards BasePoints for a correct answer plus a speed bonus that shrinks linearly
// from MaxSpeedBonus at 0 ms to nothing at the time limit.
func Score(correct bool, answerTimeMs, timeLimitSec int) int {
	if !correct {
		return 0
	}
	limitMs := timeLimitSec * 1000
	if limitMs <= 0 {
		return BasePoints
	}
	elapsed := answerTimeMs
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limitMs {
		elapsed = limitMs
	}
	return BasePoints + MaxSpeedBonus*(limitMs-elapsed)/limitMs
}
