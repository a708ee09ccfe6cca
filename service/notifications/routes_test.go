package notification

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
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

const testExpoToken = "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"

func newTestRouter(t *testing.T) (*mux.Router, *gorm.DB) {
	t.Helper()
	t.Setenv("SECRET_KEY", "test-secret")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Device{}, &models.NotificationHistory{}))

	router := mux.NewRouter()
	NewNotificationHandler(db).RegisterRoutes(router)
	return router, db
}

func bearerToken(t *testing.T, userID uint) string {
	t.Helper()

	token, err := utils.GenerateAccessToken(userID, models.RoleStudent, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, router *mux.Router, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterDeviceValidatesToken(t *testing.T) {
	router, _ := newTestRouter(t)
	auth := bearerToken(t, 7)

	rec := doJSON(t, router, "POST", "/devices", auth, `{"token":"not-an-expo-token"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/devices", auth, `{"token":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceReRegisterAfterDelete(t *testing.T) {
	router, db := newTestRouter(t)
	auth := bearerToken(t, 7)

	body := fmt.Sprintf(`{"token":%q,"device_type":"phone"}`, testExpoToken)
	rec := doJSON(t, router, "POST", "/devices", auth, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var registered struct {
		Device models.Device `json:"device"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	rec = doJSON(t, router, "DELETE", fmt.Sprintf("/devices/%d", registered.Device.ID), auth, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The same phone registering the same token again is routine after
	// a reinstall and must not hit the unique (user, token) key.
	rec = doJSON(t, router, "POST", "/devices", auth, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var count int64
	require.NoError(t, db.Model(&models.Device{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeleteDeviceScopedToOwner(t *testing.T) {
	router, db := newTestRouter(t)

	device := models.Device{UserID: 7, Token: testExpoToken}
	require.NoError(t, db.Create(&device).Error)

	rec := doJSON(t, router, "DELETE", fmt.Sprintf("/devices/%d", device.ID), bearerToken(t, 8), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var count int64
	require.NoError(t, db.Model(&models.Device{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
