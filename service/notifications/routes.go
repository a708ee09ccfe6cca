package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

// NotificationHandler manages device registrations and delivers push
// notifications through the Expo push service.
type NotificationHandler struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

// RegisterRoutes registers all notification routes
func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", utils.AuthMiddleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices", utils.AuthMiddleware(h.GetMyDevices)).Methods("GET")
	router.HandleFunc("/devices/{id}", utils.AuthMiddleware(h.DeleteDevice)).Methods("DELETE")
	router.HandleFunc("/notifications/history", utils.AuthMiddleware(h.GetMyNotificationHistory)).Methods("GET")
}

// RegisterDevice stores an Expo push token for the authenticated user.
// Re-registering an existing token refreshes its metadata.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var deviceRequest struct {
		Token      string `json:"token"`
		DeviceType string `json:"device_type"`
		DeviceName string `json:"device_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&deviceRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if deviceRequest.Token == "" {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Token is required")
		return
	}
	if _, err := expo.NewExponentPushToken(deviceRequest.Token); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid Expo push token format")
		return
	}

	device := models.Device{
		UserID:     identity.UserID,
		Token:      deviceRequest.Token,
		DeviceType: deviceRequest.DeviceType,
		DeviceName: deviceRequest.DeviceName,
	}

	var existing models.Device
	result := h.db.Where("token = ? AND user_id = ?", device.Token, device.UserID).First(&existing)
	if result.Error == nil {
		existing.DeviceType = device.DeviceType
		existing.DeviceName = device.DeviceName
		if err := h.db.Save(&existing).Error; err != nil {
			utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error updating device")
			return
		}
		device = existing
	} else {
		if err := h.db.Create(&device).Error; err != nil {
			utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error creating device")
			return
		}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) GetMyDevices(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var devices []models.Device
	if err := h.db.Where("user_id = ?", identity.UserID).Find(&devices).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving devices")
		return
	}

	utils.WriteJSON(w, http.StatusOK, devices)
}

// DeleteDevice removes one of the caller's registered devices.
func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	vars := mux.Vars(r)
	deviceID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid device ID")
		return
	}

	// Hard delete so the (user, token) key is free if the device
	// registers the same token again later.
	result := h.db.Unscoped().Where("user_id = ?", identity.UserID).Delete(&models.Device{}, deviceID)
	if result.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error deleting device")
		return
	}
	if result.RowsAffected == 0 {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Device not found")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Device deleted successfully",
	})
}

func (h *NotificationHandler) GetMyNotificationHistory(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	limit := 20
	page := 1
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if parsedPage, err := strconv.Atoi(pageParam); err == nil && parsedPage > 0 {
			page = parsedPage
		}
	}

	var count int64
	if err := h.db.Model(&models.NotificationHistory{}).
		Where("user_id = ?", identity.UserID).Count(&count).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error counting notifications")
		return
	}

	var history []models.NotificationHistory
	if err := h.db.Where("user_id = ?", identity.UserID).
		Order("sent_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&history).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving notification history")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":   count,
		"page":    page,
		"limit":   limit,
		"history": history,
	})
}

// NotifyUser pushes a notification to every device registered by the
// user and records the attempt. Called from the booking and chat
// services; delivery failures are logged, never surfaced to the
// triggering request.
func (h *NotificationHandler) NotifyUser(userID uint, title, body string, data map[string]string) {
	var devices []models.Device
	if err := h.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		log.Printf("Error retrieving devices for user %d: %v", userID, err)
		return
	}
	if len(devices) == 0 {
		return
	}

	tokens := make([]string, 0, len(devices))
	for _, device := range devices {
		tokens = append(tokens, device.Token)
	}

	err := h.sendExpoNotification(tokens, title, body, data)
	status := "sent"
	if err != nil {
		status = "failed"
		log.Printf("Error sending notification to user %d: %v", userID, err)
	}

	dataJSON, _ := json.Marshal(data)
	history := models.NotificationHistory{
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   string(dataJSON),
		Status: status,
		SentAt: time.Now(),
	}
	if dbErr := h.db.Create(&history).Error; dbErr != nil {
		log.Printf("Error creating notification history: %v", dbErr)
	}
}

// sendExpoNotification publishes a push message to the given tokens.
// Tokens Expo rejects are purged from the device table.
func (h *NotificationHandler) sendExpoNotification(tokenStrings []string, title, body string, data map[string]string) error {
	var validTokens []expo.ExponentPushToken
	var invalidTokens []string

	for _, tokenString := range tokenStrings {
		pushToken, err := expo.NewExponentPushToken(tokenString)
		if err != nil {
			log.Printf("Invalid push token format %s: %v", tokenString, err)
			invalidTokens = append(invalidTokens, tokenString)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}

	if len(invalidTokens) > 0 {
		h.cleanupInvalidTokens(invalidTokens)
	}
	if len(validTokens) == 0 {
		return fmt.Errorf("no valid push tokens found")
	}

	pushMessage := &expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     data,
	}

	response, err := h.expoClient.Publish(pushMessage)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	if validationErr := response.ValidateResponse(); validationErr != nil {
		return fmt.Errorf("notification validation failed: %v", validationErr)
	}

	return nil
}

func (h *NotificationHandler) cleanupInvalidTokens(tokens []string) {
	for _, token := range tokens {
		if err := h.db.Unscoped().Where("token = ?", token).Delete(&models.Device{}).Error; err != nil {
			log.Printf("Error cleaning up invalid token %s: %v", token, err)
		}
	}
}
