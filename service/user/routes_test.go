package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tutorlink/tutorlink-server/cmd/models"
)

func newTestRouter(t *testing.T) (*mux.Router, *gorm.DB) {
	t.Helper()
	t.Setenv("SECRET_KEY", "test-secret")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.PasswordResetToken{}))

	router := mux.NewRouter()
	NewHandler(db).RegisterRoutes(router)
	return router, db
}

func postJSON(t *testing.T, router *mux.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	router, db := newTestRouter(t)

	rec := postJSON(t, router, "/register",
		`{"first_name":"Ama","last_name":"Mensah","email":"ama@example.com","password":"secret1","role":"tutor","subject":"Physics","hourly_rate":25}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered struct {
		PublicID string `json:"public_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.NotEmpty(t, registered.PublicID)

	var stored models.User
	require.NoError(t, db.Where("email = ?", "ama@example.com").First(&stored).Error)
	assert.Equal(t, models.RoleTutor, stored.Role)
	assert.Equal(t, "Physics", stored.TutorProfile.Subject)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	assert.Equal(t, DefaultProfilePicture, stored.ProfilePictureURL)

	rec = postJSON(t, router, "/login", `{"email":"ama@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		AccessToken string      `json:"access_token"`
		Role        models.Role `json:"role"`
		PublicID    string      `json:"public_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, models.RoleTutor, login.Role)
	assert.Equal(t, registered.PublicID, login.PublicID)

	require.NoError(t, db.Where("email = ?", "ama@example.com").First(&stored).Error)
	require.NotNil(t, stored.LastLoginAt)
	assert.WithinDuration(t, time.Now(), *stored.LastLoginAt, time.Minute)

	rec = postJSON(t, router, "/login", `{"email":"ama@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	router, db := newTestRouter(t)

	rec := postJSON(t, router, "/register",
		`{"first_name":"Esi","last_name":"Owusu","email":"esi@example.com","password":"oldpass1","role":"student"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = postJSON(t, router, "/reset-password", `{"email":"esi@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Unknown emails get the same reply and leave no token behind.
	rec = postJSON(t, router, "/reset-password", `{"email":"nobody@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokenCount int64
	require.NoError(t, db.Model(&models.PasswordResetToken{}).Count(&tokenCount).Error)
	assert.Equal(t, int64(1), tokenCount)

	var user models.User
	require.NoError(t, db.Where("email = ?", "esi@example.com").First(&user).Error)
	var reset models.PasswordResetToken
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&reset).Error)
	assert.Regexp(t, `^[0-9]{6}$`, reset.Token)

	rec = postJSON(t, router, "/verify-reset-token",
		fmt.Sprintf(`{"email":"esi@example.com","token":"%s"}`, reset.Token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = postJSON(t, router, "/verify-reset-token", `{"email":"esi@example.com","token":"000000x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, fmt.Sprintf("/reset-password/%d/confirm", user.ID),
		fmt.Sprintf(`{"token":"%s","password":"newpass1"}`, reset.Token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The token is single-use.
	rec = postJSON(t, router, fmt.Sprintf("/reset-password/%d/confirm", user.ID),
		fmt.Sprintf(`{"token":"%s","password":"another1"}`, reset.Token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/login", `{"email":"esi@example.com","password":"oldpass1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = postJSON(t, router, "/login", `{"email":"esi@example.com","password":"newpass1"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "missing fields",
			body: `{"email":"x@example.com"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "bad role",
			body: `{"first_name":"A","email":"a@example.com","password":"secret1","role":"admin"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "short password",
			body: `{"first_name":"A","email":"a@example.com","password":"abc","role":"student"}`,
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/register", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"first_name":"Ama","email":"ama@example.com","password":"secret1","role":"student"}`
	rec := postJSON(t, router, "/register", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, router, "/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchTutors(t *testing.T) {
	router, db := newTestRouter(t)

	seed := []models.User{
		{PublicID: "t1", Email: "t1@example.com", PasswordHash: "x", Role: models.RoleTutor,
			FirstName: "Ama", IsActive: true,
			TutorProfile: models.TutorProfile{Subject: "Physics", Rating: 4.9}},
		{PublicID: "t2", Email: "t2@example.com", PasswordHash: "x", Role: models.RoleTutor,
			FirstName: "Kofi", IsActive: true,
			TutorProfile: models.TutorProfile{Subject: "Mathematics", Rating: 4.2}},
		{PublicID: "s1", Email: "s1@example.com", PasswordHash: "x", Role: models.RoleStudent,
			FirstName: "Esi", IsActive: true},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	req := httptest.NewRequest("GET", "/tutors/search?subject=Physics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Tutors []map[string]interface{} `json:"tutors"`
		Total  int64                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, int64(1), response.Total)
	assert.Equal(t, "t1", response.Tutors[0]["public_id"])

	// Students never appear in search results.
	req = httptest.NewRequest("GET", "/tutors/search", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, int64(2), response.Total)
}

func TestGetTutorByPublicID(t *testing.T) {
	router, db := newTestRouter(t)

	tutor := models.User{
		PublicID: "t1", Email: "t1@example.com", PasswordHash: "x", Role: models.RoleTutor,
		FirstName: "Ama", IsActive: true,
		TutorProfile: models.TutorProfile{Subject: "Physics", Bio: "PhD candidate"},
	}
	require.NoError(t, db.Create(&tutor).Error)

	req := httptest.NewRequest("GET", "/tutors/t1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Physics", profile["subject"])
	assert.Equal(t, "PhD candidate", profile["bio"])

	req = httptest.NewRequest("GET", "/tutors/unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
