// Package tracking issues signed open and click links for outbound email
// and turns hits on them into engagement interactions.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrBadSignature is returned for links that were not issued by this signer.
var ErrBadSignature = errors.New("tracking: bad signature")

// Link is the payload carried inside a tracking URL.
type Link struct {
	CustomerID string
	Template   string
	Target     string // click destination; empty for opens
}

// Signer encodes and verifies tracking links.
type Signer struct {
	secret  []byte
	baseURL string
}

func NewSigner(secret, baseURL string) *Signer {
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

// PixelURL returns the open-tracking pixel address for a send.
func (s *Signer) PixelURL(customerID, template string) string {
	data, sig := s.Sign(Link{CustomerID: customerID, Template: template})
	return s.baseURL + "/t/open/" + data + "/" + sig
}

// ClickURL wraps target in a redirect that records a click.
func (s *Signer) ClickURL(customerID, template, target string) string {
	data, sig := s.Sign(Link{CustomerID: customerID, Template: template, Target: target})
	return s.baseURL + "/t/click/" + data + "/" + sig
}

// Sign returns the URL-safe payload and its signature.
func (s *Signer) Sign(l Link) (data, sig string) {
	raw := l.CustomerID + "|" + l.Template + "|" + l.Target
	data = base64.RawURLEncoding.EncodeToString([]byte(raw))
	return data, s.mac(data)
}

// Verify checks sig and decodes data.
func (s *Signer) Verify(data, sig string) (Link, error) {
	want := s.mac(data)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return Link{}, ErrBadSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return Link{}, ErrBadSignature
	}
	// the target may itself contain '|'
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 || parts[0] == "" {
		return Link{}, ErrBadSignature
	}
	return Link{CustomerID: parts[0], Template: parts[1], Target: parts[2]}, nil
}

func (s *Signer) mac(data string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil)[:16])
}
