package models

// Difficulty is the tier of a drawing topic.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Topic is a drawing prompt. Assigned once at room creation and never
// changed afterwards.
type Topic struct {
	ID         int        `json:"id"`
	Label      string     `json:"topic"`
	Difficulty Difficulty `json:"difficulty"`
}
