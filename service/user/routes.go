package user

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

const accessTokenTTL = 24 * time.Hour

// DefaultProfilePicture is assigned to accounts registered without an
// uploaded photo.
const DefaultProfilePicture = "/images/default_pfp.png"

// Subjects is the catalogue offered to tutors at registration and to
// students in the search filter.
var Subjects = []string{
	"Mathematics",
	"Physics",
	"Chemistry",
	"Biology",
	"English",
	"French",
	"Spanish",
	"History",
	"Geography",
	"Computer Science",
	"Economics",
	"Music",
}

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes sets up all user-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/users/me", utils.AuthMiddleware(h.GetCurrentUser)).Methods("GET")
	router.HandleFunc("/balance", utils.AuthMiddleware(h.GetBalance)).Methods("GET")
	router.HandleFunc("/users/bio", utils.AuthMiddleware(h.GetBio)).Methods("GET")
	router.HandleFunc("/users/change_bio", utils.AuthMiddleware(h.ChangeBio)).Methods("POST")
	router.HandleFunc("/upload-profile-picture", utils.AuthMiddleware(h.UploadProfilePicture)).Methods("POST")
	router.HandleFunc("/tutors/subjects", h.GetSubjects).Methods("GET")
	router.HandleFunc("/tutors/search", h.SearchTutors).Methods("GET")
	router.HandleFunc("/tutors/{publicId}", h.GetTutor).Methods("GET")
	router.HandleFunc("/reset-password", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/verify-reset-token", h.handleVerifyResetToken).Methods("POST")
	router.HandleFunc("/reset-password/{userId}/confirm", h.handlePasswordReset).Methods("POST")
	router.HandleFunc("/images/{filename}", h.ServeImage).Methods("GET")
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var registerRequest struct {
		FirstName  string      `json:"first_name"`
		LastName   string      `json:"last_name"`
		Email      string      `json:"email"`
		Password   string      `json:"password"`
		Role       models.Role `json:"role"`
		Subject    string      `json:"subject"`
		Bio        string      `json:"bio"`
		HourlyRate float64     `json:"hourly_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid JSON input")
		return
	}

	if registerRequest.FirstName == "" || registerRequest.Email == "" || registerRequest.Password == "" {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Missing required fields")
		return
	}
	if !registerRequest.Role.Valid() {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Role must be tutor or student")
		return
	}
	if len(registerRequest.Password) < 6 {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Password must be at least 6 characters long")
		return
	}

	var existing models.User
	if result := h.db.Where("email = ?", registerRequest.Email).First(&existing); !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if result.Error != nil {
			utils.WriteError(w, http.StatusInternalServerError, "server_error", "Database error")
			return
		}
		log.Printf("Registration attempt with duplicate email %s", registerRequest.Email)
		utils.WriteError(w, http.StatusConflict, "email_taken", "Email is already in use")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error hashing password")
		return
	}

	user := models.User{
		PublicID:          uuid.NewString(),
		Email:             registerRequest.Email,
		PasswordHash:      string(passwordHash),
		Role:              registerRequest.Role,
		FirstName:         registerRequest.FirstName,
		LastName:          registerRequest.LastName,
		ProfilePictureURL: DefaultProfilePicture,
		IsActive:          true,
	}
	if registerRequest.Role == models.RoleTutor {
		user.TutorProfile = models.TutorProfile{
			Subject:    registerRequest.Subject,
			Bio:        registerRequest.Bio,
			HourlyRate: registerRequest.HourlyRate,
		}
	}

	if err := h.db.Create(&user).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error registering user")
		return
	}

	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "User registered successfully",
		"public_id": user.PublicID,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", loginRequest.Email).First(&user).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(loginRequest.Password)); err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	accessToken, err := utils.GenerateAccessToken(user.ID, user.Role, accessTokenTTL)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error generating access token")
		return
	}

	now := time.Now()
	if err := h.db.Model(&user).Update("last_login_at", &now).Error; err != nil {
		log.Printf("Error recording login time for user %d: %v", user.ID, err)
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Login successful",
		"access_token": accessToken,
		"public_id":    user.PublicID,
		"role":         user.Role,
		"first_name":   user.FirstName,
	})
}

// GetCurrentUser returns the authenticated account's own profile.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
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

	response := map[string]interface{}{
		"public_id":       user.PublicID,
		"email":           user.Email,
		"role":            user.Role,
		"first_name":      user.FirstName,
		"last_name":       user.LastName,
		"profile_picture": user.ProfilePictureURL,
	}
	if user.Role == models.RoleTutor {
		response["subject"] = user.TutorProfile.Subject
		response["profile_title"] = user.TutorProfile.ProfileTitle
		response["bio"] = user.TutorProfile.Bio
		response["hourly_rate"] = user.TutorProfile.HourlyRate
		response["rating"] = user.TutorProfile.Rating
		response["total_reviews"] = user.TutorProfile.TotalReviews
	}

	utils.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var user models.User
	if err := h.db.Select("balance").First(&user, identity.UserID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"balance": user.Balance,
	})
}

func (h *Handler) GetBio(w http.ResponseWriter, r *http.Request) {
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

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"bio":           user.TutorProfile.Bio,
		"profile_title": user.TutorProfile.ProfileTitle,
	})
}

func (h *Handler) ChangeBio(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	if identity.Role != models.RoleTutor {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Only tutors have a public bio")
		return
	}

	var bioRequest struct {
		Bio          string `json:"bio"`
		ProfileTitle string `json:"profile_title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&bioRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	updates := map[string]interface{}{"bio": bioRequest.Bio}
	if bioRequest.ProfileTitle != "" {
		updates["profile_title"] = bioRequest.ProfileTitle
	}
	result := h.db.Model(&models.User{}).Where("id = ?", identity.UserID).Updates(updates)
	if result.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error updating bio")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Bio updated successfully",
	})
}

// UploadProfilePicture accepts a multipart image and stores it under
// uploads/images, replacing the account's previous picture URL.
func (h *Handler) UploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Missing image file")
		return
	}
	defer file.Close()

	var user models.User
	if err := h.db.First(&user, identity.UserID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	savedPath, err := utils.SaveImage(file, header)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error saving image")
		return
	}

	pictureURL := "/images/" + filepath.Base(savedPath)
	if err := h.db.Model(&user).Update("profile_picture_url", pictureURL).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error updating profile picture")
		return
	}

	if user.ProfilePictureURL != "" && user.ProfilePictureURL != DefaultProfilePicture {
		if err := utils.DeleteImage(user.ProfilePictureURL); err != nil {
			log.Printf("Error removing old profile picture: %v", err)
		}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message":         "Profile picture updated",
		"profile_picture": pictureURL,
	})
}

func (h *Handler) GetSubjects(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subjects": Subjects,
	})
}

// SearchTutors filters tutors by free-text query and subject, paginated.
func (h *Handler) SearchTutors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	subject := r.URL.Query().Get("subject")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	dbQuery := h.db.Model(&models.User{}).
		Where("user_type = ? AND is_active = ?", models.RoleTutor, true)

	if query != "" {
		searchQuery := "%" + query + "%"
		dbQuery = dbQuery.Where(
			"first_name LIKE ? OR last_name LIKE ? OR subject LIKE ? OR profile_title LIKE ? OR bio LIKE ?",
			searchQuery, searchQuery, searchQuery, searchQuery, searchQuery,
		)
	}
	if subject != "" {
		dbQuery = dbQuery.Where("subject = ?", subject)
	}

	var total int64
	if err := dbQuery.Count(&total).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error counting tutors")
		return
	}

	var tutors []models.User
	if err := dbQuery.Order("rating DESC, total_reviews DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&tutors).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error searching tutors")
		return
	}

	results := make([]map[string]interface{}, 0, len(tutors))
	for _, tutor := range tutors {
		results = append(results, tutorSummary(&tutor))
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tutors":      results,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetTutor retrieves a tutor's public profile by public ID.
func (h *Handler) GetTutor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var tutor models.User
	result := h.db.Where("public_id = ? AND user_type = ?", vars["publicId"], models.RoleTutor).
		First(&tutor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "not_found", "Tutor not found")
		} else {
			utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving tutor")
		}
		return
	}

	profile := tutorSummary(&tutor)
	profile["bio"] = tutor.TutorProfile.Bio
	profile["video_intro"] = tutor.TutorProfile.VideoIntroURL
	profile["verification_status"] = tutor.TutorProfile.VerificationStatus

	utils.WriteJSON(w, http.StatusOK, profile)
}

func tutorSummary(tutor *models.User) map[string]interface{} {
	return map[string]interface{}{
		"public_id":       tutor.PublicID,
		"first_name":      tutor.FirstName,
		"last_name":       tutor.LastName,
		"profile_picture": tutor.ProfilePictureURL,
		"subject":         tutor.TutorProfile.Subject,
		"profile_title":   tutor.TutorProfile.ProfileTitle,
		"hourly_rate":     tutor.TutorProfile.HourlyRate,
		"rating":          tutor.TutorProfile.Rating,
		"total_reviews":   tutor.TutorProfile.TotalReviews,
	}
}

func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	filename := vars["filename"]

	if containsDotDot(filename) {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid path")
		return
	}

	imagePath := filepath.Join("uploads/images", filepath.Clean(filename))
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Image not found")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", getContentType(imagePath))
	http.ServeFile(w, r, imagePath)
}

func containsDotDot(v string) bool {
	if !filepath.IsAbs(v) {
		v = filepath.Clean(filepath.Join("/", v))
	}
	return filepath.Clean(v) != v
}

func getContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var resetRequest struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if resetRequest.Email == "" {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Email is required")
		return
	}

	// The response stays the same whether the account exists or not.
	vagueReply := func() {
		utils.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "If an account exists, a reset code will be sent to your email",
		})
	}

	var user models.User
	if err := h.db.Where("email = ?", resetRequest.Email).First(&user).Error; err != nil {
		vagueReply()
		return
	}

	code, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error processing reset request")
		return
	}
	resetToken := fmt.Sprintf("%06d", code.Int64())

	tx := h.db.Begin()
	if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error processing reset request")
		return
	}
	passwordResetToken := models.PasswordResetToken{
		UserID:    user.ID,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	if err := tx.Create(&passwordResetToken).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error creating reset token")
		return
	}
	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error processing reset request")
		return
	}

	go func() {
		if err := sendResetEmail(user.Email, resetToken); err != nil {
			log.Printf("Error sending reset email: %v", err)
		}
	}()

	vagueReply()
}

func (h *Handler) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid email or token")
		return
	}

	var resetToken models.PasswordResetToken
	if err := h.db.Where("user_id = ? AND token = ?", user.ID, req.Token).First(&resetToken).Error; err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid email or token")
		return
	}
	if time.Now().After(resetToken.ExpiresAt) {
		utils.WriteError(w, http.StatusBadRequest, "token_expired", "Token expired")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Token is valid",
		"user_id": user.ID,
	})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid user ID")
		return
	}

	var resetRequest struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if len(resetRequest.Password) < 6 {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Password must be at least 6 characters long")
		return
	}

	tx := h.db.Begin()

	var resetToken models.PasswordResetToken
	if err := tx.Where("user_id = ? AND token = ?", userID, resetRequest.Token).First(&resetToken).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired token")
		return
	}
	if time.Now().After(resetToken.ExpiresAt) {
		tx.Rollback()
		utils.WriteError(w, http.StatusBadRequest, "token_expired", "Invalid or expired token")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(resetRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error hashing password")
		return
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		Update("password_hash", string(passwordHash)).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error updating password")
		return
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.PasswordResetToken{}).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error processing password reset")
		return
	}
	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error processing password reset")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successful",
	})
}

// sendResetEmail delivers the 6-digit reset code over SMTP.
func sendResetEmail(email, code string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Password Reset Code")
	m.SetBody("text/plain", fmt.Sprintf("Your password reset code is: %s. Ignore this email if you did not request a reset.", code))

	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	return d.DialAndSend(m)
}
