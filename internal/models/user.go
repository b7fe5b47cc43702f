package models

const DefaultRating = 800

type SkillLevel string

const (
	SkillBeginner     SkillLevel = "BEGINNER"
	SkillIntermediate SkillLevel = "INTERMEDIATE"
	SkillPro          SkillLevel = "PRO"
)

// SkillLevelFor buckets a rating.
func SkillLevelFor(rating int) SkillLevel {
	switch {
	case rating < 1200:
		return SkillBeginner
	case rating < 1600:
		return SkillIntermediate
	default:
		return SkillPro
	}
}

// User holds the rating fields this service reads and writes. Accounts
// themselves are managed elsewhere.
type User struct {
	ID            string     `json:"id" db:"id"`
	Username      string     `json:"username" db:"username"`
	Rating        int        `json:"rating" db:"rating"`
	Wins          int        `json:"wins" db:"wins"`
	Losses        int        `json:"losses" db:"losses"`
	MatchesPlayed int        `json:"matchesPlayed" db:"matches_played"`
	WinStreak     int        `json:"winStreak" db:"win_streak"`
	MaxWinStreak  int        `json:"maxWinStreak" db:"max_win_streak"`
	SkillLevel    SkillLevel `json:"skillLevel" db:"skill_level"`
	TokenVersion  int        `json:"-" db:"token_version"`
}

// MatchOutcome is one player's side of a finished match.
type MatchOutcome struct {
	UserID       string
	RatingChange int
	Won          bool
	NewSkill     SkillLevel
}
