package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	TOKEN_KEY = "Authorization"
)

const (
	ROLE_USER       = "user"
	ROLE_SPECIALIST = "specialist"
	ROLE_ADMIN      = "admin"
)

type TokenClaims struct {
	User       string `json:"u"`
	Role       string `json:"r"`
	ExpireTime int64  `json:"exp"`
	NotBefore  int64  `json:"nbf"`
}

func NewTokenClaims(userID, role string, expireTime int64) TokenClaims {
	return TokenClaims{
		User:       userID,
		Role:       role,
		ExpireTime: expireTime,
		NotBefore:  time.Now().Unix() - 1,
	}
}

func (t TokenClaims) GetUser() string {
	return t.User
}

func (t TokenClaims) GetRole() string {
	return t.Role
}

var (
	ErrInvalidJWT = errors.New("invalid token")
)

func GenerateJWT(info TokenClaims, key []byte) (string, error) {
	claims := jwt.MapClaims{
		"u":   info.User,
		"r":   info.Role,
		"exp": info.ExpireTime,
		"nbf": info.NotBefore,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

func VerifyToken(tokenString string, key []byte) (*TokenClaims, error) {
	claims, err := ParseJWT(tokenString, key)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if claims.ExpireTime < now || claims.NotBefore > now {
		return nil, fmt.Errorf("expired token, %w", ErrInvalidJWT)
	}

	return claims, nil
}

func ParseJWT(tokenString string, key []byte) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v, %w", t.Header["alg"], ErrInvalidJWT)
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidJWT
	}

	result := &TokenClaims{}
	if v, ok := mapClaims["u"].(string); ok {
		result.User = v
	}
	if v, ok := mapClaims["r"].(string); ok {
		result.Role = v
	}
	if v, ok := mapClaims["exp"].(float64); ok {
		result.ExpireTime = int64(v)
	}
	if v, ok := mapClaims["nbf"].(float64); ok {
		result.NotBefore = int64(v)
	}
	return result, nil
}
