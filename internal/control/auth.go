// Package control is the narrow boundary between this engine and the
// out-of-scope control-plane gateway: validating the JWT the gateway
// attaches to a call, and fanning status events out to subscribers
// over a websocket. Everything else the gateway does (issuing tokens,
// routing JSON-RPC methods, per-method permission tables) stays out of
// scope, per spec.md's control-plane exclusion.
package control

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// Claims mirrors the teacher's JWTClaims: the gateway issues these,
// this engine only ever reads them back.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	IAT    int64  `json:"iat"`
	EXP    int64  `json:"exp"`
}

// AuthGate validates pre-issued JWTs at the control-plane boundary.
// Adapted from the teacher's security.JWTHandler, narrowed to
// ValidateToken only — GenerateToken and rate limiting stay with the
// gateway that issues tokens.
type AuthGate struct {
	secretKey string
	logger    *logging.Logger
}

func NewAuthGate(secretKey string, logger *logging.Logger) (*AuthGate, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("control: auth gate secret key must be provided")
	}
	return &AuthGate{secretKey: secretKey, logger: logger}, nil
}

// Validate parses and verifies tokenString, rejecting anything not
// signed with HS256 to rule out algorithm-confusion attacks, matching
// the teacher's explicit alg check in ValidateToken.
func (g *AuthGate) Validate(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, apierrors.New(apierrors.KindUnauthorized, "control.Validate", "token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unsupported signing method: %v", token.Method.Alg())
		}
		return []byte(g.secretKey), nil
	})
	if err != nil {
		g.logger.WithError(err).Warn("control-plane token validation failed")
		return nil, apierrors.Wrap(apierrors.KindUnauthorized, "control.Validate", "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, apierrors.New(apierrors.KindUnauthorized, "control.Validate", "invalid token claims")
	}

	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	if userID == "" || role == "" {
		return nil, apierrors.New(apierrors.KindUnauthorized, "control.Validate", "token missing required claims")
	}

	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	return &Claims{UserID: userID, Role: role, IAT: int64(iat), EXP: int64(exp)}, nil
}
