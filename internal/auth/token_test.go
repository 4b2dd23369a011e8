package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(42, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	userID, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if userID != 42 {
		t.Errorf("subject = %d, want 42", userID)
	}
}

func TestGenerateToken_EmptySubject(t *testing.T) {
	if _, err := GenerateToken(0, testSecret, time.Hour); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("err = %v, want ErrInvalidSubject", err)
	}
}

func TestParseToken_Rejections(t *testing.T) {
	valid, err := GenerateToken(7, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	expired, err := GenerateToken(7, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken expired: %v", err)
	}

	// Flip a character in the signature segment.
	tampered := valid[:len(valid)-2] + "xx"

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"garbage", "not-a-token", testSecret},
		{"empty", "", testSecret},
		{"tampered signature", tampered, testSecret},
		{"wrong secret", valid, []byte("fedcba9876543210fedcba9876543210")},
		{"expired", expired, testSecret},
		{"truncated", valid[:len(valid)/2], testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("err = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_NonNumericSubject(t *testing.T) {
	// A structurally valid token whose subject is not a user ID must be
	// rejected identically to a forged one.
	token, err := GenerateToken(1, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	// Corrupt the payload segment; this also breaks the signature.
	parts := strings.Split(token, ".")
	parts[1] = "eyJzdWIiOiJhYmMifQ"
	if _, err := ParseToken(strings.Join(parts, "."), testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}
