// Package middleware provides authentication, logging and metrics middleware for the HTTP server.
package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken  = errors.New("Authorization header required")
	errHeaderFormat  = errors.New("Invalid authorization header format")
	errInvalidToken  = errors.New("Invalid or expired token")
	errInvalidClaims = errors.New("Invalid token claims")
	errSubject       = errors.New("Invalid user ID in token")
)

// AuthRequired enforces a bearer token on protected routes and stores the
// subject user ID in Locals("userID").
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c.Get("Authorization"))
		if err != nil {
			return unauthorized(c, err)
		}
		userID, err := ParseUserID(secret, token)
		if err != nil {
			return unauthorized(c, err)
		}
		c.Locals("userID", userID)
		return c.Next()
	}
}

// WebSocketAuthRequired accepts the token from the "token" query parameter,
// falling back to the Authorization header. Browsers cannot set headers on
// websocket upgrades.
func WebSocketAuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			var err error
			if token, err = bearerToken(c.Get("Authorization")); err != nil {
				return unauthorized(c, err)
			}
		}
		userID, err := ParseUserID(secret, token)
		if err != nil {
			return unauthorized(c, err)
		}
		c.Locals("userID", userID)
		return c.Next()
	}
}

// ParseUserID validates an HMAC-signed token and returns its "sub" claim as a user ID.
func ParseUserID(secret, tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errInvalidClaims
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, errInvalidClaims
	}

	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, errSubject
	}
	return uint(id), nil
}

// IssueToken signs an HS256 token for userID. Used by the seed command and tests;
// login flows live outside this service.
func IssueToken(secret string, userID uint, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errHeaderFormat
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}
