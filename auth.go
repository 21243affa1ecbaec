package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const authRealm = `Basic realm="picamstream"`

// AuthMiddleware accepts HTTP basic auth for the viewer account, or a
// short-lived signed stream token for clients that cannot send headers.
type AuthMiddleware struct {
	creds     *Credentials
	secretKey string
	tokenTTL  time.Duration
}

type Claims struct {
	jwt.RegisteredClaims
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

func NewAuthMiddleware(creds *Credentials, secretKey string, tokenTTL time.Duration) *AuthMiddleware {
	if tokenTTL <= 0 {
		tokenTTL = DefaultStreamTokenTTL
	}
	return &AuthMiddleware{
		creds:     creds,
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
	}
}

// Check rejects unauthenticated requests with 401
func (am *AuthMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if token := bearerOrQueryToken(r); token != "" {
			if err := am.VerifyStreamToken(token); err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || !am.VerifyPassword(username, password) {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerOrQueryToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// VerifyPassword checks a username and password against the stored hash
func (am *AuthMiddleware) VerifyPassword(username, password string) bool {
	if am.creds == nil {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(am.creds.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword(am.creds.PasswordHash, []byte(password))
	return userOK && passErr == nil
}

// GenerateStreamToken signs a JWT for WebSocket/streaming connections
func (am *AuthMiddleware) GenerateStreamToken() (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(am.tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "stream",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(am.secretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return ss, expires, nil
}

// VerifyStreamToken rejects tokens that are unsigned, foreign or expired
func (am *AuthMiddleware) VerifyStreamToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(am.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return errors.New("invalid token")
	}

	return nil
}
