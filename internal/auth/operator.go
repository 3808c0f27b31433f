package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are the HMAC-signed JWT claims carried by operator API tokens.
type OperatorClaims struct {
	OperatorID string `json:"operatorId"`
	Email      string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateOperatorToken validates an operator token using HMAC signing
func ValidateOperatorToken(tokenString, secret string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
