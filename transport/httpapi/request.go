package httpapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go-dbc/transport"
)

// Submit uploads an image (multipart) or a token challenge (urlencoded).
func (t *Transport) Submit(ctx context.Context, s transport.Submission, extras map[string]string) (*transport.JobRecord, error) {
	const op = "submit"
	var (
		body        io.Reader
		contentType string
	)
	if s.IsToken() {
		form := url.Values{}
		for k, v := range extras {
			form.Set(k, v)
		}
		form.Set("type", strconv.Itoa(s.Token.Type))
		form.Set("token_params", s.Token.Params)
		for k, v := range t.creds.Fields() {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		buf, ct, err := t.multipartBody(s, extras)
		if err != nil {
			return nil, transport.NewError(transport.InvalidPayload, op, "build multipart body", err)
		}
		body = buf
		contentType = ct
	}

	r, err := t.call(ctx, op, "POST", "captcha", body, contentType)
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// Fetch returns the current record for a job.
func (t *Transport) Fetch(ctx context.Context, id int64) (*transport.JobRecord, error) {
	r, err := t.call(ctx, "fetch", "GET", "captcha/"+strconv.FormatInt(id, 10), nil, "")
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// Report flags a solved job as incorrectly solved.
func (t *Transport) Report(ctx context.Context, id int64) (*transport.JobRecord, error) {
	form := t.credentialForm()
	r, err := t.call(ctx, "report", "POST", "captcha/"+strconv.FormatInt(id, 10)+"/report",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// AccountInfo returns the authenticated account.
func (t *Transport) AccountInfo(ctx context.Context) (*transport.AccountInfo, error) {
	form := t.credentialForm()
	r, err := t.call(ctx, "user", "POST", "user", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	return r.accountInfo(), nil
}

func (t *Transport) credentialForm() url.Values {
	form := url.Values{}
	for k, v := range t.creds.Fields() {
		form.Set(k, v)
	}
	return form
}

// multipartBody encodes the image, optional banner, extras and credentials.
func (t *Transport) multipartBody(s transport.Submission, extras map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := make(map[string]string, len(extras)+2)
	for k, v := range extras {
		fields[k] = v
	}
	for k, v := range t.creds.Fields() {
		fields[k] = v
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	fw, err := w.CreateFormFile("captchafile", "captcha")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(s.Image); err != nil {
		return nil, "", err
	}
	if len(s.Banner) > 0 {
		bw, err := w.CreateFormFile("banner", "banner")
		if err != nil {
			return nil, "", err
		}
		if _, err := bw.Write(s.Banner); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// call executes one API command and maps every failure into the taxonomy.
func (t *Transport) call(ctx context.Context, op, method, cmd string, body io.Reader, contentType string) (*apiResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.isClosed() {
		return nil, transport.NewError(transport.Unavailable, op, "transport closed", nil)
	}
	endpoint := strings.SplitN(cmd, "/", 2)[0] + ":" + op
	if ok, until := t.allowRequest(endpoint); !ok {
		return nil, transport.NewError(transport.Overloaded, op, "rate limited locally until "+until.Format("15:04:05"), nil)
	}

	u := strings.TrimRight(t.baseURL, "/") + "/" + strings.Trim(cmd, "/")
	slog.Debug("dbc http send", slog.String("op", op), slog.String("method", method), slog.String("url", u))

	respBody, _, status, err := t.doer.DoWithHeaderOrderCtx(ctx, method, u, dbcHeaders(contentType), body, dbcHeaderOrder)
	// A response that lands after cancellation is discarded.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, transport.NewError(transport.Unavailable, op, "API connection failed", err)
	}
	slog.Debug("dbc http recv", slog.String("op", op), slog.Int("status", status), slog.String("body", truncateBytes(respBody, 200)))

	if status < 200 || status > 299 {
		if status == 503 {
			t.markOverloaded(endpoint)
		}
		return nil, classifyStatus(op, status, respBody)
	}
	return parseResponse(op, respBody)
}
