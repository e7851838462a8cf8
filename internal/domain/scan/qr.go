package scan

import (
	"encoding/json"
	"net/url"
	"strings"
)

// QRToken is the check-in token carried by a QR code.
// Type is empty when the code did not declare one.
type QRToken struct {
	Token string `json:"token"`
	Type  string `json:"type"`
}

// ParseQR extracts a check-in token from decoded QR text.
// Accepted forms, tried in order: a JSON object {"token","type"}, a URL with
// token and type query parameters, or the bare token.
// PRE: none
// POST: Returns ErrEmptyToken if no token can be extracted
func ParseQR(text string) (QRToken, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return QRToken{}, ErrEmptyToken
	}

	if strings.HasPrefix(raw, "{") {
		var t QRToken
		if err := json.Unmarshal([]byte(raw), &t); err == nil {
			t.Token = strings.TrimSpace(t.Token)
			t.Type = strings.ToLower(strings.TrimSpace(t.Type))
			if t.Token == "" {
				return QRToken{}, ErrEmptyToken
			}
			return t, nil
		}
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		t := QRToken{
			Token: strings.TrimSpace(q.Get("token")),
			Type:  strings.ToLower(strings.TrimSpace(q.Get("type"))),
		}
		if t.Token == "" {
			return QRToken{}, ErrEmptyToken
		}
		return t, nil
	}

	return QRToken{Token: raw}, nil
}
