package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "productchat-service"
	tokenTTL    = 72 * time.Hour
)

var errNoUserClaim = errors.New("token carries no user id")

// generateJWT генерує JWT з ідентифікатором користувача
func generateJWT(userID string, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(tokenTTL).Unix(),
		"iss":     tokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseJWT validates a token and returns its user id.
func parseJWT(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errNoUserClaim
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", errNoUserClaim
	}
	return userID, nil
}

// identity returns the verified user of the request, or "" when identities
// are disabled or no token was sent. Browsers cannot set headers on a
// websocket handshake, so a "token" query parameter is accepted too.
func (h *Handler) identity(c *gin.Context) (string, error) {
	if h.Config.JWTSecret == "" {
		return "", nil
	}

	tokenString := c.Query("token")
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenString == "" {
		return "", nil
	}
	return parseJWT(tokenString, []byte(h.Config.JWTSecret))
}

// GetAnonID створює анонімний ID та, якщо налаштовано, JWT для нього
func (h *Handler) GetAnonID(c *gin.Context) {
	anonID := uuid.New().String()

	if h.Config.JWTSecret == "" {
		c.JSON(http.StatusOK, gin.H{"anon_id": anonID})
		return
	}

	token, err := generateJWT(anonID, []byte(h.Config.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}
