package schedule

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

type AvailabilityHandler struct {
	db    *gorm.DB
	store *Store
}

func NewAvailabilityHandler(db *gorm.DB) *AvailabilityHandler {
	return &AvailabilityHandler{db: db, store: NewStore(db)}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/save-availability", utils.AuthMiddleware(h.SaveAvailability)).Methods("POST")
	router.HandleFunc("/get-availability", h.GetAvailability).Methods("POST")
}

// SaveAvailability replaces the caller's base weekly schedule with the
// submitted set of open slots.
func (h *AvailabilityHandler) SaveAvailability(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	if identity.Role != models.RoleTutor {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Only tutors can set availability")
		return
	}

	var updateRequest struct {
		Availability []struct {
			Day   int   `json:"day"`
			Slots []int `json:"slots"`
		} `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	var desired []SlotKey
	for _, day := range updateRequest.Availability {
		for _, slot := range day.Slots {
			desired = append(desired, SlotKey{Day: day.Day, Slot: slot})
		}
	}

	if err := h.store.ReplaceSchedule(identity.UserID, desired); err != nil {
		if errors.Is(err, ErrInvalidSlot) {
			utils.WriteError(w, http.StatusBadRequest, "invalid_slot", err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error updating availability")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Availability updated successfully",
	})
}

// GetAvailability returns a tutor's currently open slots, resolved by
// public id, ordered by day then slot.
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	var request struct {
		TutorID string `json:"tutor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	var tutor models.User
	if err := h.db.Where("public_id = ? AND user_type = ?", request.TutorID, models.RoleTutor).
		First(&tutor).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Tutor not found")
		return
	}

	slots, err := h.store.OpenSlots(tutor.ID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving availability")
		return
	}

	type slotResponse struct {
		DayOfWeek int `json:"day_of_week"`
		TimeSlot  int `json:"time_slot"`
	}
	availability := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		availability = append(availability, slotResponse{DayOfWeek: slot.DayOfWeek, TimeSlot: slot.TimeSlot})
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"availability": availability,
	})
}
