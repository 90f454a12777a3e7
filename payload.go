package dbc

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/anatolykoptev/go-dbc/transport"
)

// base64Prefix marks a string image source as inline base64 data.
const base64Prefix = "base64:"

// Payload is a submission: either an *Image or a *Token. The set is closed;
// it is resolved to a transport.Submission once, at the Submit boundary.
type Payload interface {
	normalize() (transport.Submission, error)
	isToken() bool
}

// Image is an image challenge. Its source is read when the image is submitted.
type Image struct {
	source string
	load   func() ([]byte, error)
	banner *Image
}

// ImageBytes uses raw image bytes.
func ImageBytes(b []byte) *Image {
	return &Image{source: "bytes", load: func() ([]byte, error) { return b, nil }}
}

// ImageFile reads the image from a file path.
func ImageFile(path string) *Image {
	return &Image{source: "file", load: func() ([]byte, error) { return os.ReadFile(path) }}
}

// ImageBase64 decodes base64 image data. A leading "base64:" is optional.
func ImageBase64(s string) *Image {
	return &Image{source: "base64", load: func() ([]byte, error) {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(s, base64Prefix))
	}}
}

// ImageReader reads the image from r. Seekable readers are rewound first.
func ImageReader(r io.Reader) *Image {
	return &Image{source: "reader", load: func() ([]byte, error) {
		if s, ok := r.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
		}
		return io.ReadAll(r)
	}}
}

// ImageVector builds the image from a vector of byte values; each element is
// truncated to its low byte.
func ImageVector(v []int) *Image {
	return &Image{source: "vector", load: func() ([]byte, error) {
		b := make([]byte, len(v))
		for i, x := range v {
			b[i] = byte(x)
		}
		return b, nil
	}}
}

// ParseImage treats s as inline base64 when it has the "base64:" prefix and
// as a file path otherwise.
func ParseImage(s string) *Image {
	if strings.HasPrefix(s, base64Prefix) {
		return ImageBase64(s)
	}
	return ImageFile(s)
}

// WithBanner returns a copy of img carrying a banner image.
func (img *Image) WithBanner(banner *Image) *Image {
	cp := *img
	cp.banner = banner
	return &cp
}

func (img *Image) isToken() bool { return false }

func (img *Image) normalize() (transport.Submission, error) {
	data, err := loadImage(img, "captcha")
	if err != nil {
		return transport.Submission{}, err
	}
	s := transport.Submission{Image: data}
	if img.banner != nil {
		if s.Banner, err = loadImage(img.banner, "banner"); err != nil {
			return transport.Submission{}, err
		}
	}
	return s, nil
}

func loadImage(img *Image, what string) ([]byte, error) {
	if img == nil || img.load == nil {
		return nil, transport.NewError(transport.InvalidPayload, "submit", what+" image is missing", nil)
	}
	data, err := img.load()
	if err != nil {
		return nil, transport.NewError(transport.InvalidPayload, "submit", "read "+what+" from "+img.source, err)
	}
	if len(data) == 0 {
		return nil, transport.NewError(transport.InvalidPayload, "submit", what+" image is empty", nil)
	}
	return data, nil
}

// TokenType is the service's type code for a token challenge.
type TokenType int

const (
	TokenRecaptchaV2 TokenType = 4
	TokenRecaptchaV3 TokenType = 5
)

// DefaultMinScore is the reCAPTCHA v3 score used when none is given.
const DefaultMinScore = 0.3

// Token is a token-based challenge. Params are JSON-encoded on submit.
type Token struct {
	Type   TokenType
	Params map[string]any
}

// RecaptchaV2 builds a reCAPTCHA v2 challenge. Keys in extra override the
// built-in parameters.
func RecaptchaV2(siteKey, pageURL string, extra map[string]any) *Token {
	return newToken(TokenRecaptchaV2, map[string]any{
		"googlekey": siteKey,
		"pageurl":   pageURL,
	}, extra)
}

// RecaptchaV3 builds a reCAPTCHA v3 challenge. A minScore of zero means
// DefaultMinScore.
func RecaptchaV3(siteKey, pageURL, action string, minScore float64, extra map[string]any) *Token {
	if minScore == 0 {
		minScore = DefaultMinScore
	}
	return newToken(TokenRecaptchaV3, map[string]any{
		"googlekey": siteKey,
		"pageurl":   pageURL,
		"action":    action,
		"min_score": minScore,
	}, extra)
}

func newToken(typ TokenType, params, extra map[string]any) *Token {
	for k, v := range extra {
		params[k] = v
	}
	return &Token{Type: typ, Params: params}
}

func (t *Token) isToken() bool { return true }

func (t *Token) normalize() (transport.Submission, error) {
	if t == nil {
		return transport.Submission{}, transport.NewError(transport.InvalidPayload, "submit", "token is missing", nil)
	}
	if t.Type <= 0 {
		return transport.Submission{}, transport.NewError(transport.InvalidPayload, "submit", "token type is not set", nil)
	}
	params, err := json.Marshal(t.Params)
	if err != nil {
		return transport.Submission{}, transport.NewError(transport.InvalidPayload, "submit", "encode token params", err)
	}
	return transport.Submission{Token: &transport.TokenFields{Type: int(t.Type), Params: string(params)}}, nil
}
