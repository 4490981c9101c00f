// Package topics holds the fixed catalog of drawing prompts and random
// selection over it.
package topics

import (
	"math/rand"

	"github.com/kritsadaz/sketchduel/go/internal/models"
)

// Catalog is the full prompt list. Labels are Thai with a leading emoji.
var Catalog = []models.Topic{
	{ID: 1, Label: "🏠 บ้าน", Difficulty: models.DifficultyEasy},
	{ID: 2, Label: "🌳 ต้นไม้", Difficulty: models.DifficultyEasy},
	{ID: 3, Label: "☀️ พระอาทิตย์", Difficulty: models.DifficultyEasy},
	{ID: 4, Label: "🐱 แมว", Difficulty: models.DifficultyEasy},
	{ID: 5, Label: "🐕 สุนัข", Difficulty: models.DifficultyEasy},
	{ID: 6, Label: "🚗 รถยนต์", Difficulty: models.DifficultyMedium},
	{ID: 7, Label: "🚁 เฮลิคอปเตอร์", Difficulty: models.DifficultyMedium},
	{ID: 8, Label: "🦋 ผีเสื้อ", Difficulty: models.DifficultyMedium},
	{ID: 9, Label: "🌈 รุ้ง", Difficulty: models.DifficultyMedium},
	{ID: 10, Label: "🏰 ปราสาท", Difficulty: models.DifficultyHard},
	{ID: 11, Label: "🦁 สิงโต", Difficulty: models.DifficultyHard},
	{ID: 12, Label: "🚀 จรวด", Difficulty: models.DifficultyHard},
	{ID: 13, Label: "🐉 มังกร", Difficulty: models.DifficultyHard},
	{ID: 14, Label: "🎸 กีตาร์", Difficulty: models.DifficultyMedium},
	{ID: 15, Label: "🎨 จานสี", Difficulty: models.DifficultyEasy},
}

// Random returns a uniformly chosen topic from the catalog.
func Random() models.Topic {
	return Catalog[rand.Intn(len(Catalog))]
}
