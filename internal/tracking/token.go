// Package tracking correlates recipient opens and clicks back to queued
// stage emails via signed opaque tokens.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Event kinds carried inside a token.
const (
	KindOpen  = "open"
	KindClick = "click"
)

// Payload is the decoded content of a tracking token.
type Payload struct {
	QueuedEmailID uuid.UUID
	Kind          string
	URL           string // destination, click tokens only
}

// Codec encodes and decodes signed tracking tokens. A token is
// base64url(payload) + "." + truncated hex HMAC-SHA256, safe for use as a
// single URL path segment. Possession of a valid token is the only
// authorization needed to record an event, so the signature is mandatory.
type Codec struct {
	key []byte
}

// NewCodec creates a codec with the given signing key.
func NewCodec(signingKey string) *Codec {
	return &Codec{key: []byte(signingKey)}
}

// EncodeOpen builds an open-tracking token for a queued email.
func (c *Codec) EncodeOpen(queuedEmailID uuid.UUID) string {
	return c.encode(queuedEmailID.String() + "|" + KindOpen)
}

// EncodeClick builds a click-tracking token carrying the destination URL.
func (c *Codec) EncodeClick(queuedEmailID uuid.UUID, destination string) string {
	return c.encode(queuedEmailID.String() + "|" + KindClick + "|" + destination)
}

// Decode parses and verifies a token. Returns (payload, true) only when
// the signature matches and the payload is well-formed; never panics.
func (c *Codec) Decode(token string) (*Payload, bool) {
	dot := strings.LastIndex(token, ".")
	if dot < 0 {
		return nil, false
	}
	encoded, sig := token[:dot], token[dot+1:]

	// Strict mode rejects non-zero trailing bits in the final character,
	// so every token string has exactly one decodable spelling.
	raw, err := base64.RawURLEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	data := string(raw)
	if !hmac.Equal([]byte(c.sign(data)), []byte(sig)) {
		return nil, false
	}

	parts := strings.SplitN(data, "|", 3)
	if len(parts) < 2 {
		return nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, false
	}

	p := &Payload{QueuedEmailID: id, Kind: parts[1]}
	switch p.Kind {
	case KindOpen:
		if len(parts) == 3 {
			return nil, false
		}
	case KindClick:
		if len(parts) != 3 || parts[2] == "" {
			return nil, false
		}
		p.URL = parts[2]
	default:
		return nil, false
	}
	return p, true
}

func (c *Codec) encode(data string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(data)) + "." + c.sign(data)
}

func (c *Codec) sign(data string) string {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SafeRedirectURL reports whether a decoded click destination is shaped
// like a normal web URL. Anything else is redirected to the fallback
// instead, closing the open-redirect hole a forged-looking token could
// otherwise exploit.
func SafeRedirectURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}
