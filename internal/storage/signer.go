package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid object token")
	ErrTokenExpired = errors.New("object token expired")
)

// Signer issues and checks HMAC tokens binding an object path to an expiry.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns base64(payload) + "." + base64(hmac(payload)) with payload
// "path|expiry_unix".
func (s *Signer) Sign(objectPath string, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%d", objectPath, expiry.Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.mac([]byte(payload))
}

// Verify checks the signature and expiry and returns the object path.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: format", ErrInvalidToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: encoding", ErrInvalidToken)
	}
	if !hmac.Equal([]byte(parts[1]), []byte(s.mac(payload))) {
		return "", fmt.Errorf("%w: signature", ErrInvalidToken)
	}

	separator := strings.LastIndex(string(payload), "|")
	if separator <= 0 {
		return "", fmt.Errorf("%w: payload", ErrInvalidToken)
	}
	expiryUnix, err := strconv.ParseInt(string(payload[separator+1:]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: expiry", ErrInvalidToken)
	}
	if s.now().Unix() > expiryUnix {
		return "", ErrTokenExpired
	}
	return string(payload[:separator]), nil
}

func (s *Signer) mac(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
