package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/messmate/backend/internal/models"
)

// MealService owns the meal catalog: priced offerings keyed by
// (date, meal_type). Uniqueness of the pair is enforced by the database's
// unique constraint, not by a check-then-write in application code.
type MealService struct {
	db        *sql.DB
	validator *ValidationHelper
}

type mealRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	MealType  string `json:"meal_type" validate:"required,oneof=breakfast lunch dinner"`
	Price     int64  `json:"price" validate:"gte=0"`
	MenuItems string `json:"menu_items,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

func NewMealService(db *sql.DB) *MealService {
	return &MealService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// Create inserts a new meal. A (date, meal_type) collision surfaces as
// ErrDuplicateMeal via the unique constraint.
func (s *MealService) Create(date time.Time, mealType string, price int64, menuItems string) (*models.Meal, error) {
	meal := &models.Meal{
		Date:      date,
		MealType:  mealType,
		Price:     price,
		MenuItems: menuItems,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO meals (date, meal_type, price, menu_items, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		meal.Date, meal.MealType, meal.Price, meal.MenuItems, meal.IsActive, meal.CreatedAt,
	).Scan(&meal.ID)
	if err != nil {
		return nil, translateMealErr(err)
	}
	return meal, nil
}

// Update edits a meal in place. Moving it onto another meal's
// (date, meal_type) slot fails with ErrDuplicateMeal.
func (s *MealService) Update(mealID int, date time.Time, mealType string, price int64, menuItems string, isActive bool) error {
	result, err := s.db.Exec(`
		UPDATE meals
		SET date = $1, meal_type = $2, price = $3, menu_items = $4, is_active = $5
		WHERE id = $6`,
		date, mealType, price, menuItems, isActive, mealID)
	if err != nil {
		return translateMealErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrMealNotFound
	}
	return nil
}

// Delete removes a meal that nothing references. Meals with attendance
// stay forever; history points at them.
func (s *MealService) Delete(mealID int) error {
	var attendanceCount int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM attendance WHERE meal_id = $1`, mealID).Scan(&attendanceCount)
	if err != nil {
		return err
	}
	if attendanceCount > 0 {
		return ErrMealHasAttendance
	}

	// The pre-check can race with a concurrent scan; the foreign key
	// constraint is the real guard.
	result, err := s.db.Exec(`DELETE FROM meals WHERE id = $1`, mealID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrMealHasAttendance
		}
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrMealNotFound
	}
	return nil
}

// SetActive flips a meal's active flag without touching anything else.
func (s *MealService) SetActive(mealID int, active bool) error {
	result, err := s.db.Exec(`UPDATE meals SET is_active = $1 WHERE id = $2`, active, mealID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrMealNotFound
	}
	return nil
}

// DeactivateExpired clears the active flag on every meal dated before
// asOf. Idempotent; runs at the start of any read that lists scannable
// meals, so the staleness window is bounded by request frequency.
func (s *MealService) DeactivateExpired(asOf time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE meals
		SET is_active = false
		WHERE date < $1 AND is_active = true`, asOf.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListForDate returns active meals on the given date, after sweeping
// expired ones.
func (s *MealService) ListForDate(date time.Time) ([]models.Meal, error) {
	if _, err := s.DeactivateExpired(date); err != nil {
		return nil, err
	}
	return s.queryMeals(`
		SELECT id, date, meal_type, price, menu_items, is_active, created_at
		FROM meals
		WHERE date = $1 AND is_active = true
		ORDER BY meal_type`, date.Format("2006-01-02"))
}

// ListUpcoming returns active meals dated today or later.
func (s *MealService) ListUpcoming(from time.Time) ([]models.Meal, error) {
	if _, err := s.DeactivateExpired(from); err != nil {
		return nil, err
	}
	return s.queryMeals(`
		SELECT id, date, meal_type, price, menu_items, is_active, created_at
		FROM meals
		WHERE date >= $1 AND is_active = true
		ORDER BY date, meal_type`, from.Format("2006-01-02"))
}

// ListRecent returns the latest meals regardless of state, for the admin
// catalog view.
func (s *MealService) ListRecent(limit int) ([]models.Meal, error) {
	return s.queryMeals(`
		SELECT id, date, meal_type, price, menu_items, is_active, created_at
		FROM meals
		ORDER BY date DESC, meal_type
		LIMIT $1`, limit)
}

func (s *MealService) queryMeals(query string, args ...any) ([]models.Meal, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meals := []models.Meal{}
	for rows.Next() {
		var m models.Meal
		var menuItems sql.NullString
		if err := rows.Scan(&m.ID, &m.Date, &m.MealType, &m.Price, &menuItems, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.MenuItems = menuItems.String
		meals = append(meals, m)
	}
	return meals, rows.Err()
}

// localMidnight returns the start of t's calendar day in t's own zone.
// Truncating would snap to UTC midnight and shift the date for part of
// the day in any zone ahead of UTC.
func localMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func translateMealErr(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateMeal
	}
	return err
}

// HTTP handlers

// CreateMeal adds a meal to the catalog
// @Summary Create a meal
// @Description Add a meal offering for a date and meal type
// @Tags meals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param meal body mealRequest true "Meal data"
// @Success 201 {object} models.Meal
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/meals [post]
func (s *MealService) CreateMeal(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMealRequest(w, r)
	if !ok {
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)
	meal, err := s.Create(date, req.MealType, req.Price, req.MenuItems)
	if err != nil {
		log.Printf("[MEAL] Create failed for %s %s: %v", req.Date, req.MealType, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[MEAL] Created %s on %s, price %s", meal.MealType, req.Date, FormatAmount(meal.Price))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(meal)
}

// UpdateMeal edits a meal
// @Summary Update a meal
// @Description Edit a meal's date, type, price, menu or active flag
// @Tags meals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mealId path int true "Meal ID"
// @Param meal body mealRequest true "Meal data"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/meals/{mealId} [put]
func (s *MealService) UpdateMeal(w http.ResponseWriter, r *http.Request) {
	mealID, err := strconv.Atoi(chi.URLParam(r, "mealId"))
	if err != nil {
		SendErrorResponse(w, "Invalid meal id", http.StatusBadRequest, nil)
		return
	}

	req, ok := s.decodeMealRequest(w, r)
	if !ok {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	date, _ := time.Parse("2006-01-02", req.Date)
	if err := s.Update(mealID, date, req.MealType, req.Price, req.MenuItems, active); err != nil {
		log.Printf("[MEAL] Update failed for meal %d: %v", mealID, err)
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// DeleteMeal removes a meal without attendance
// @Summary Delete a meal
// @Description Delete a meal; refused if any attendance references it
// @Tags meals
// @Produce json
// @Security BearerAuth
// @Param mealId path int true "Meal ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/meals/{mealId} [delete]
func (s *MealService) DeleteMeal(w http.ResponseWriter, r *http.Request) {
	mealID, err := strconv.Atoi(chi.URLParam(r, "mealId"))
	if err != nil {
		SendErrorResponse(w, "Invalid meal id", http.StatusBadRequest, nil)
		return
	}

	if err := s.Delete(mealID); err != nil {
		log.Printf("[MEAL] Delete failed for meal %d: %v", mealID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[MEAL] Deleted meal %d", mealID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// ToggleMeal flips a meal's active flag
// @Summary Toggle meal active state
// @Tags meals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mealId path int true "Meal ID"
// @Param request body object{is_active=bool} true "Desired state"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Router /admin/meals/{mealId}/toggle [post]
func (s *MealService) ToggleMeal(w http.ResponseWriter, r *http.Request) {
	mealID, err := strconv.Atoi(chi.URLParam(r, "mealId"))
	if err != nil {
		SendErrorResponse(w, "Invalid meal id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.SetActive(mealID, req.IsActive); err != nil {
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "is_active": req.IsActive})
}

// ListMeals returns the recent catalog for admins
// @Summary List meals
// @Tags meals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{meals=[]models.Meal,count=int}
// @Router /admin/meals [get]
func (s *MealService) ListMeals(w http.ResponseWriter, r *http.Request) {
	meals, err := s.ListRecent(50)
	if err != nil {
		log.Printf("[MEAL] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch meals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"meals": meals,
		"count": len(meals),
	})
}

// TodayMeals returns today's scannable meals
// @Summary Today's active meals
// @Tags meals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{meals=[]models.Meal}
// @Router /meals/today [get]
func (s *MealService) TodayMeals(w http.ResponseWriter, r *http.Request) {
	today := localMidnight(time.Now())
	meals, err := s.ListForDate(today)
	if err != nil {
		log.Printf("[MEAL] Today listing failed: %v", err)
		SendErrorResponse(w, "Failed to fetch meals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"meals": meals})
}

// UpcomingMeals returns active meals from today onward
// @Summary Upcoming active meals
// @Tags meals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{meals=[]models.Meal}
// @Router /meals/upcoming [get]
func (s *MealService) UpcomingMeals(w http.ResponseWriter, r *http.Request) {
	today := localMidnight(time.Now())
	meals, err := s.ListUpcoming(today)
	if err != nil {
		log.Printf("[MEAL] Upcoming listing failed: %v", err)
		SendErrorResponse(w, "Failed to fetch meals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"meals": meals})
}

func (s *MealService) decodeMealRequest(w http.ResponseWriter, r *http.Request) (*mealRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req mealRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}

	return &req, true
}
