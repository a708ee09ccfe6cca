package booking

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tutorlink/tutorlink-server/cmd/models"
)

const jitsiTokenTTL = 10 * time.Hour

func jitsiAppID() string {
	if id := os.Getenv("JITSI_APP_ID"); id != "" {
		return id
	}
	return "tutorlink"
}

func jitsiDomain() string {
	if domain := os.Getenv("JITSI_DOMAIN"); domain != "" {
		return domain
	}
	return "localhost"
}

// RoomName is deterministic per booking so both parties join the same
// room on every request.
func RoomName(bookingID uint) string {
	return fmt.Sprintf("booking_%d", bookingID)
}

// MintJitsiToken issues a Jitsi-compatible JWT granting the user access
// to the given room. A fresh token is minted per request; the room name
// stays stable.
func MintJitsiToken(user *models.User, room string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(jitsiTokenTTL)

	name := user.FirstName
	if name == "" {
		name = "Participant"
	}

	claims := jwt.MapClaims{
		"aud":  jitsiAppID(),
		"iss":  jitsiAppID(),
		"sub":  user.PublicID,
		"room": room,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  expiresAt.Unix(),
		"context": map[string]interface{}{
			"user": map[string]interface{}{
				"name": name,
				"id":   user.PublicID,
			},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(os.Getenv("JITSI_APP_SECRET")))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// LessonURL is the join link handed to clients.
func LessonURL(room, token string) string {
	return fmt.Sprintf("https://%s:8443/%s?jwt=%s", jitsiDomain(), room, token)
}
