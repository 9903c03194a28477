package accessgate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName holds the role cache entry. The cookie is an optimization owned
// by the request/response boundary; it carries no authority beyond its TTL.
const CookieName = "tunarasa_role"

var errBadCookie = errors.New("role cache cookie is malformed or tampered")

// Entry is the cached authorization snapshot for one subject.
type Entry struct {
	Subject  string    `json:"sub"`
	RoleID   int       `json:"role"`
	Active   bool      `json:"active"`
	CachedAt time.Time `json:"cachedAt"`
}

// Fresh reports whether the entry is still usable under the given TTL.
// An entry at or past its TTL is treated as absent.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) < ttl
}

// CookieCodec signs and verifies role cache cookies. A failed verification
// just reads as a cache miss; the store remains the source of truth.
type CookieCodec struct {
	secret []byte
}

// NewCookieCodec creates a codec from the configured signing secret.
func NewCookieCodec(secret string) *CookieCodec {
	return &CookieCodec{secret: []byte(secret)}
}

// Encode serializes and signs an entry as "<payload>.<mac>", both base64url.
func (c *CookieCodec) Encode(entry Entry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Decode verifies the signature and deserializes the entry.
func (c *CookieCodec) Decode(value string) (Entry, error) {
	encoded, mac, found := strings.Cut(value, ".")
	if !found {
		return Entry{}, errBadCookie
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(mac)) {
		return Entry{}, errBadCookie
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Entry{}, errBadCookie
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, errBadCookie
	}
	return entry, nil
}

// Read extracts and verifies the entry from the request, if any.
func (c *CookieCodec) Read(r *http.Request) (Entry, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Entry{}, false
	}
	entry, err := c.Decode(cookie.Value)
	if err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Write sets the signed entry cookie on the response.
func (c *CookieCodec) Write(w http.ResponseWriter, entry Entry) {
	value, err := c.Encode(entry)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the entry cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (c *CookieCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
