// Package auth verifies Telegram WebApp initData payloads.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Verification errors. The messages double as API error codes.
var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrExpired          = errors.New("expired")
	ErrMissingUser      = errors.New("missing_user")
	ErrBadUserJSON      = errors.New("bad_user_json")
)

// secretSalt keys the derivation of the signing secret from the bot token
const secretSalt = "WebAppData"

// DefaultMaxAge is how old an auth_date may be before the payload is rejected
const DefaultMaxAge = 24 * time.Hour

// WebAppUser is the user object embedded in initData
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// DisplayName prefers the username, then the first name, then the id
func (u WebAppUser) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}

// Verifier checks initData signatures against a bot token
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier for the given bot token
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{
		secret: deriveSecret(botToken),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for the auth_date check
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

func deriveSecret(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(secretSalt))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// dataCheckString joins every field except hash as sorted key=value lines
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}
	return strings.Join(lines, "\n")
}

func sign(secret []byte, values url.Values) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and freshness of initData and returns the user
func (v *Verifier) Verify(initData string) (WebAppUser, error) {
	if initData == "" || len(v.secret) == 0 {
		return WebAppUser{}, ErrInvalidSignature
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, ErrInvalidSignature
	}
	received := strings.ToLower(values.Get("hash"))
	if received == "" {
		return WebAppUser{}, ErrInvalidSignature
	}
	if !hmac.Equal([]byte(sign(v.secret, values)), []byte(received)) {
		return WebAppUser{}, ErrInvalidSignature
	}

	authDate, _ := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	age := v.now().Sub(time.Unix(authDate, 0))
	if age > v.maxAge || age < -v.maxAge {
		return WebAppUser{}, ErrExpired
	}

	if _, ok := values["user"]; !ok {
		return WebAppUser{}, ErrMissingUser
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return WebAppUser{}, ErrBadUserJSON
	}
	return user, nil
}

// Sign builds a signed initData string for values. Clients and tests use it
// to produce payloads the verifier accepts.
func Sign(botToken string, values url.Values) string {
	signed := url.Values{}
	for k, v := range values {
		if k != "hash" {
			signed[k] = v
		}
	}
	signed.Set("hash", sign(deriveSecret(botToken), signed))
	return signed.Encode()
}
