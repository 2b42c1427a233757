package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"telethu/global/config"
)

func issueToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.GetJwtSecret())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseTokenRoundTrip(t *testing.T) {
	signed := issueToken(t, &Claims{
		UserID:  42,
		Session: "dev-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseToken(signed)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Session != "dev-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signed := issueToken(t, &Claims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	if _, err := ParseToken(signed); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestParseTokenRejectsBadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 42})
	signed, err := token.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(signed); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
}

func TestParseTokenRequiresUserID(t *testing.T) {
	signed := issueToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := ParseToken(signed); err == nil {
		t.Fatalf("token without a user id must be rejected")
	}
}
