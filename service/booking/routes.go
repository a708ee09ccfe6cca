package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
	"github.com/tutorlink/tutorlink-server/service/schedule"
)

// Notifier pushes a short notification to all of a user's registered
// devices. Implemented by the notifications service.
type Notifier interface {
	NotifyUser(userID uint, title, body string, data map[string]string)
}

type BookingHandler struct {
	db       *gorm.DB
	store    *Store
	notifier Notifier
}

func NewBookingHandler(db *gorm.DB, notifier Notifier) *BookingHandler {
	return &BookingHandler{db: db, store: NewStore(db), notifier: notifier}
}

func (h *BookingHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/book-lesson/{tutorId}", utils.AuthMiddleware(h.BookLesson)).Methods("POST")
	router.HandleFunc("/bookings/{id}", utils.AuthMiddleware(h.CancelBooking)).Methods("DELETE")
	router.HandleFunc("/students/next-lesson", utils.AuthMiddleware(h.GetNextLesson)).Methods("GET")
	router.HandleFunc("/get-lesson-link", utils.AuthMiddleware(h.GetLessonLink)).Methods("GET")
	router.HandleFunc("/generate-jitsi-token", utils.AuthMiddleware(h.GenerateJitsiToken)).Methods("POST")
}

// BookLesson reserves a slot range with the tutor for the
// authenticated student.
func (h *BookingHandler) BookLesson(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	if identity.Role != models.RoleStudent {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Only students can book lessons")
		return
	}

	vars := mux.Vars(r)
	var tutor models.User
	if err := h.db.Where("public_id = ? AND user_type = ?", vars["tutorId"], models.RoleTutor).
		First(&tutor).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Tutor not found")
		return
	}

	var bookingRequest struct {
		DayOfWeek int              `json:"day_of_week"`
		TimeSlot  int              `json:"time_slot"`
		Duration  int              `json:"duration"`
		Frequency models.Frequency `json:"frequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	booking, err := h.store.Create(CreateParams{
		TutorID:   tutor.ID,
		StudentID: identity.UserID,
		DayOfWeek: bookingRequest.DayOfWeek,
		TimeSlot:  bookingRequest.TimeSlot,
		Duration:  bookingRequest.Duration,
		Frequency: bookingRequest.Frequency,
	}, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrInvalidSlot):
		utils.WriteError(w, http.StatusBadRequest, "invalid_slot", err.Error())
		return
	case errors.Is(err, ErrTutorNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_found", "Tutor not found")
		return
	case errors.Is(err, ErrSlotUnavailable):
		utils.WriteError(w, http.StatusConflict, "slot_unavailable", "Time slot not available")
		return
	default:
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error creating booking")
		return
	}

	if h.notifier != nil {
		go h.notifier.NotifyUser(tutor.ID, "New lesson booked",
			fmt.Sprintf("A student booked a lesson starting %s", booking.ScheduledAt.Format("Mon 15:04")),
			map[string]string{"booking_id": strconv.FormatUint(uint64(booking.ID), 10)})
	}

	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Booked successfully!",
		"booking_id": booking.ID,
	})
}

// CancelBooking deactivates a booking and releases its slots. Either
// party of the booking may cancel it.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	vars := mux.Vars(r)
	bookingID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid booking ID")
		return
	}

	switch err := h.store.Cancel(uint(bookingID), identity.UserID); {
	case err == nil:
	case errors.Is(err, ErrBookingNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_found", "Booking not found")
		return
	case errors.Is(err, ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Not a participant of this booking")
		return
	default:
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error cancelling booking")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Booking cancelled successfully",
	})
}

// GetNextLesson returns the caller's soonest unfinished lesson with the
// counterpart's profile, shaped per role.
func (h *BookingHandler) GetNextLesson(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	lesson, err := h.store.NextLessonFor(identity.Role, identity.UserID, time.Now())
	if errors.Is(err, ErrBookingNotFound) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "No upcoming lessons found",
		})
		return
	}
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving next lesson")
		return
	}

	response := map[string]interface{}{
		"day_of_week":  lesson.DayOfWeek,
		"duration":     lesson.Duration * schedule.SlotMinutes,
		"frequency":    lesson.Frequency,
		"scheduled_at": lesson.ScheduledAt,
		"time_left":    time.Until(lesson.ScheduledAt).Seconds(),
	}

	switch identity.Role {
	case models.RoleTutor:
		if lesson.Student != nil {
			response["student_first_name"] = lesson.Student.FirstName
			response["student_last_name"] = lesson.Student.LastName
			response["student_profile_picture"] = lesson.Student.ProfilePictureURL
			response["student_public_id"] = lesson.Student.PublicID
		}
	default:
		if lesson.Tutor != nil {
			response["tutor_first_name"] = lesson.Tutor.FirstName
			response["tutor_last_name"] = lesson.Tutor.LastName
			response["tutor_profile_picture"] = lesson.Tutor.ProfilePictureURL
			response["tutor_subject"] = lesson.Tutor.TutorProfile.Subject
			response["tutor_public_id"] = lesson.Tutor.PublicID
			response["tutor_hourly_rate"] = lesson.Tutor.TutorProfile.HourlyRate
		}
	}

	utils.WriteJSON(w, http.StatusOK, response)
}

// GetLessonLink issues the Jitsi join link for the caller's lesson
// whose call window is currently open. The room name is stable per
// booking; the token is refreshed on every request.
func (h *BookingHandler) GetLessonLink(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var user models.User
	if err := h.db.First(&user, identity.UserID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	now := time.Now()
	lesson, err := h.store.CurrentLessonFor(identity.UserID, now)
	if errors.Is(err, ErrBookingNotFound) {
		utils.WriteError(w, http.StatusNotFound, "not_found", "No upcoming lessons found")
		return
	}
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving lesson")
		return
	}

	roomName := RoomName(lesson.ID)
	token, _, err := MintJitsiToken(&user, roomName, now)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error generating call token")
		return
	}

	room := models.JitsiRoom{
		BookingID: lesson.ID,
		RoomName:  roomName,
		JWTToken:  token,
	}
	if err := h.store.UpsertRoom(&room); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error saving call session")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"lesson_link": LessonURL(roomName, token),
	})
}

// GenerateJitsiToken mints a token for an ad-hoc room not tied to a
// booking.
func (h *BookingHandler) GenerateJitsiToken(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var user models.User
	if err := h.db.First(&user, identity.UserID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	room := uuid.NewString()
	now := time.Now()
	token, expiresAt, err := MintJitsiToken(&user, room, now)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Token generation failed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jitsi_token": token,
		"room":        room,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})
}
