package models

import "time"

const (
	MealBreakfast = "breakfast"
	MealLunch     = "lunch"
	MealDinner    = "dinner"
)

// Meal is one priced offering at a (date, meal_type) slot. The pair is
// unique across all meals, enforced by the storage layer.
type Meal struct {
	ID        int       `json:"id"`
	Date      time.Time `json:"date"`
	MealType  string    `json:"meal_type" example:"lunch"`
	Price     int64     `json:"price"` // in paise
	MenuItems string    `json:"menu_items,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
