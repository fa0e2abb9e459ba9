// Package mailtoken encodes and verifies the self-contained signed tokens
// carried in verification email links. Tokens are tamper-evident under a
// caller-supplied key and carry their own issuance time; validity is a
// max-age measured at decode time. The package is stateless: it holds no
// keys and no record of issued tokens.
package mailtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalid = errors.New("mailtoken: invalid token")
	ErrExpired = errors.New("mailtoken: token expired")
)

// Payload is the signed content of a verification token: the user the
// link is for, the per-user secret proving this is the latest issued
// link, and the issuance time.
type Payload struct {
	UserID   string `json:"uid"`
	Secret   string `json:"sec"`
	IssuedAt int64  `json:"iat"`
}

// Encode produces an opaque token of the form base64url(payload).sig
// where sig is hex(HMAC-SHA256(key, payload)).
func Encode(key []byte, userID, secret string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("mailtoken: signing key is required")
	}

	payload := Payload{
		UserID:   userID,
		Secret:   secret,
		IssuedAt: time.Now().Unix(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(data) + "." + sign(key, data), nil
}

// Decode verifies the signature and the max-age window. Any bit flip in
// the token, a foreign key, or a malformed string yields ErrInvalid; a
// genuine token older than maxAge yields ErrExpired.
func Decode(key []byte, token string, maxAge time.Duration) (*Payload, error) {
	if len(key) == 0 {
		return nil, ErrInvalid
	}

	dataPart, sigPart, err := split(token)
	if err != nil {
		return nil, ErrInvalid
	}

	decoded, err := base64.RawURLEncoding.DecodeString(dataPart)
	if err != nil {
		return nil, ErrInvalid
	}

	expected, err := hex.DecodeString(sigPart)
	if err != nil {
		return nil, ErrInvalid
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(decoded)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return nil, ErrInvalid
	}

	var payload Payload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, ErrInvalid
	}

	issuedAt := time.Unix(payload.IssuedAt, 0)
	if time.Since(issuedAt) > maxAge {
		return nil, ErrExpired
	}

	return &payload, nil
}

func sign(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func split(token string) (string, string, error) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			if i == len(token)-1 {
				break
			}
			return token[:i], token[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("mailtoken: malformed token")
}
