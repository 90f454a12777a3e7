package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/anatolykoptev/go-dbc/transport"
)

// classifyStatus maps a non-2xx HTTP status to the error taxonomy.
func classifyStatus(op string, status int, body []byte) error {
	switch status {
	case 403:
		return transport.NewError(transport.Unauthorized, op, "access denied, check your credentials and/or balance", nil)
	case 400, 413:
		return transport.NewError(transport.Rejected, op, "captcha was rejected by the service, check if it's a valid image", nil)
	case 503:
		return transport.NewError(transport.Overloaded, op, "captcha was rejected due to service overload, try again later", nil)
	case 404:
		return transport.NewError(transport.NotFound, op, "", nil)
	}
	return transport.NewError(transport.Unavailable, op, fmt.Sprintf("HTTP %d: %s", status, truncateBytes(body, 200)), nil)
}

// apiResponse covers every field the API returns across commands.
type apiResponse struct {
	Status    int     `json:"status"`
	Captcha   int64   `json:"captcha"`
	Text      *string `json:"text"`
	IsCorrect bool    `json:"is_correct"`
	User      int64   `json:"user"`
	Balance   float64 `json:"balance"`
	IsBanned  bool    `json:"is_banned"`
	Error     string  `json:"error"`
}

// parseResponse decodes a 2xx body. Empty or unparseable bodies are
// Unavailable.
func parseResponse(op string, body []byte) (*apiResponse, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, transport.NewError(transport.Unavailable, op, "invalid API response", err)
	}
	if len(probe) == 0 {
		return nil, transport.NewError(transport.Unavailable, op, "invalid API response", nil)
	}
	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, transport.NewError(transport.Unavailable, op, "invalid API response", err)
	}
	return &r, nil
}

// jobRecord normalizes a captcha response; a non-positive id is no record.
func (r *apiResponse) jobRecord() *transport.JobRecord {
	if r.Captcha <= 0 {
		return nil
	}
	rec := &transport.JobRecord{ID: r.Captcha, IsCorrect: r.IsCorrect}
	if r.Text != nil {
		rec.Text = *r.Text
	}
	return rec
}

// accountInfo normalizes a user response; a non-positive id is no record.
func (r *apiResponse) accountInfo() *transport.AccountInfo {
	if r.User <= 0 {
		return nil
	}
	return &transport.AccountInfo{ID: r.User, BalanceCents: r.Balance, IsBanned: r.IsBanned}
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
