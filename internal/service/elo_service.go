package service

import "math"

const DefaultKFactor = 32

// ELOService computes zero-sum Elo rating changes for a decided match.
type ELOService struct {
	kFactor float64
}

func NewELOService(kFactor float64) *ELOService {
	if kFactor <= 0 {
		kFactor = DefaultKFactor
	}
	return &ELOService{kFactor: kFactor}
}

func (s *ELOService) KFactor() float64 {
	return s.kFactor
}

// Delta is the number of points the winner gains and the loser loses.
func (s *ELOService) Delta(winnerRating, loserRating int) int {
	expected := s.expectedScore(float64(winnerRating), float64(loserRating))
	return int(math.Round(s.kFactor * (1 - expected)))
}

// Apply returns both post-match ratings. The sum of the two ratings is
// unchanged.
func (s *ELOService) Apply(winnerRating, loserRating int) (newWinner, newLoser, delta int) {
	delta = s.Delta(winnerRating, loserRating)
	return winnerRating + delta, loserRating - delta, delta
}

// expectedScore is A's expected score against B.
func (s *ELOService) expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}
