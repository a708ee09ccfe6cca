package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tutorlink/tutorlink-server/cmd/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller as resolved from the bearer
// token: the credential service yields (user id, role) and nothing else.
type Identity struct {
	UserID uint
	Role   models.Role
}

// Claims carried by access tokens. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserType models.Role `json:"user_type"`
}

func jwtSecret() []byte {
	return []byte(os.Getenv("SECRET_KEY"))
}

// GenerateAccessToken mints an HS256 token for the user.
func GenerateAccessToken(userID uint, role models.Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserType: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// ParseAccessToken validates the token string and returns the identity
// it carries.
func ParseAccessToken(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret(), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, errors.New("invalid user ID in token")
	}
	if !claims.UserType.Valid() {
		return Identity{}, errors.New("invalid role in token")
	}

	return Identity{UserID: uint(userID), Role: claims.UserType}, nil
}

func GetIdentityFromContext(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Identity{}, errors.New("identity not found in context")
	}
	return identity, nil
}

// AuthMiddleware authenticates the request and stores the caller's
// Identity in the request context. Websocket clients cannot set headers
// on the upgrade request, so a "token" query parameter is accepted too.
func AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "Authorization required")
			return
		}

		identity, err := ParseAccessToken(tokenString)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
