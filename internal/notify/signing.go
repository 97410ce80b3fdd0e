package notify

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "feedwatch"

// DeliveryClaims are carried by the bearer token of a signed delivery.
type DeliveryClaims struct {
	ItemID string `json:"item_id"`
	jwt.RegisteredClaims
}

// SignDelivery creates an HS256 token binding deliveryID and itemID.
func SignDelivery(secret, deliveryID, itemID string, now time.Time, ttl time.Duration) (string, error) {
	claims := DeliveryClaims{
		ItemID: itemID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        deliveryID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyDelivery validates a delivery token and returns its claims. Webhook
// receivers written in Go can use it directly.
func VerifyDelivery(tokenString, secret string) (*DeliveryClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeliveryClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*DeliveryClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
