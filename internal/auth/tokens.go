package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const issuer = "paperreader"

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs a short-lived HS256 token and records its JTI
// in Redis so it can be revoked before expiry.
func IssueAccessToken(userID string, secret []byte, rdb *redis.Client) (string, time.Time, error) {
	now := time.Now()
	jti := uuid.NewString()
	exp := now.Add(24 * time.Hour)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	ctx := context.Background()
	if err := rdb.Set(ctx, "access:"+jti, userID, 24*time.Hour).Err(); err != nil {
		return "", time.Time{}, err
	}

	return signed, exp, nil
}

// ValidateAccessToken parses and verifies the token, then checks the
// JTI is still live in Redis.
func ValidateAccessToken(tokenString string, secret []byte, rdb *redis.Client) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	ctx := context.Background()
	exists, err := rdb.Exists(ctx, "access:"+claims.ID).Result()
	if err != nil || exists != 1 {
		return nil, errors.New("token revoked or expired")
	}

	return claims, nil
}

// RevokeToken drops the JTI from Redis so validation fails from now on.
func RevokeToken(jti string, rdb *redis.Client) error {
	return rdb.Del(context.Background(), "access:"+jti).Err()
}
