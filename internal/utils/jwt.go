package utils

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TerminalClaims are the claims carried by a backend-issued terminal token.
// The POS UI obtains the token during device enrollment and presents it on
// every call to the local agent.
type TerminalClaims struct {
	TerminalID string `json:"terminal_id"`
	StoreID    string `json:"store_id"`
	jwt.RegisteredClaims
}

// ValidateTerminalToken parses and verifies a terminal token against the
// shared terminal secret.
func ValidateTerminalToken(tokenString, secret string) (*TerminalClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TerminalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TerminalClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TerminalID == "" {
		return nil, errors.New("token missing terminal_id")
	}
	return claims, nil
}
