package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatolykoptev/go-stealth/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go-dbc/transport"
)

type recordedRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

type fakeDoer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
	err      error

	// delay holds the response back; with ignoreCtx the wait runs to
	// completion even after cancellation.
	delay     time.Duration
	ignoreCtx bool
}

func (f *fakeDoer) DoWithHeaderOrderCtx(ctx context.Context, method, u string, headers map[string]string, body io.Reader, _ []string) ([]byte, map[string]string, int, error) {
	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		if f.ignoreCtx {
			<-timer.C
		} else {
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, nil, 0, ctx.Err()
			}
		}
	}
	var b []byte
	if body != nil {
		b, _ = io.ReadAll(body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{method: method, url: u, headers: headers, body: b})
	f.mu.Unlock()
	if f.err != nil {
		return nil, nil, 0, f.err
	}
	return []byte(f.body), map[string]string{}, f.status, nil
}

func (f *fakeDoer) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeDoer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestTransport(t *testing.T, d *fakeDoer, creds transport.Credentials, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{WithDoer(d), WithBaseURL("http://dbc.test/api")}, opts...)
	tr, err := New(creds, opts...)
	require.NoError(t, err)
	return tr
}

func TestNewRejectsEmptyCredentials(t *testing.T) {
	_, err := New(transport.Credentials{Username: "bob"}, WithDoer(&fakeDoer{}))
	require.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   transport.Kind
	}{
		{403, transport.Unauthorized},
		{400, transport.Rejected},
		{413, transport.Rejected},
		{503, transport.Overloaded},
		{404, transport.NotFound},
		{500, transport.Unavailable},
		{302, transport.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			d := &fakeDoer{status: tt.status, body: "nope"}
			tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
			_, err := tr.Fetch(context.Background(), 1)
			k, ok := transport.KindOf(err)
			require.True(t, ok, "error %v not classified", err)
			assert.Equal(t, tt.kind, k)
		})
	}
}

func TestSubmitImageMultipart(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"status":0,"captcha":7,"text":"","is_correct":false}`}
	tr := newTestTransport(t, d, transport.Credentials{Username: "bob", Password: "pw"})

	rec, err := tr.Submit(context.Background(), transport.Submission{
		Image:  []byte("PNGDATA"),
		Banner: []byte("BANNER"),
	}, map[string]string{"banner_text": "select cars"})
	require.NoError(t, err)
	assert.Equal(t, &transport.JobRecord{ID: 7}, rec)

	req := d.last(t)
	assert.Equal(t, "POST", req.method)
	assert.Equal(t, "http://dbc.test/api/captcha", req.url)
	assert.Equal(t, "application/json", req.headers["accept"])
	assert.Equal(t, transport.APIVersion, req.headers["user-agent"])

	_, params, err := mime.ParseMediaType(req.headers["content-type"])
	require.NoError(t, err)
	mr := multipart.NewReader(strings.NewReader(string(req.body)), params["boundary"])
	form, err := mr.ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, form.Value["username"])
	assert.Equal(t, []string{"pw"}, form.Value["password"])
	assert.Equal(t, []string{"select cars"}, form.Value["banner_text"])

	require.Len(t, form.File["captchafile"], 1)
	f, err := form.File["captchafile"][0].Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(f)
	assert.Equal(t, "PNGDATA", string(data))
	require.Len(t, form.File["banner"], 1)
}

func TestSubmitTokenURLEncoded(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":9,"text":null,"is_correct":false}`}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))

	rec, err := tr.Submit(context.Background(), transport.Submission{
		Token: &transport.TokenFields{Type: 4, Params: `{"googlekey":"k","pageurl":"u"}`},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.ID)
	assert.Empty(t, rec.Text)

	req := d.last(t)
	assert.Equal(t, "application/x-www-form-urlencoded", req.headers["content-type"])
	form, err := url.ParseQuery(string(req.body))
	require.NoError(t, err)
	assert.Equal(t, "4", form.Get("type"))
	assert.Equal(t, `{"googlekey":"k","pageurl":"u"}`, form.Get("token_params"))
	assert.Equal(t, "tok", form.Get("authtoken"))
	assert.Empty(t, form.Get("username"))
}

func TestFetchNormalizesRecord(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *transport.JobRecord
	}{
		{"solved", `{"captcha":42,"text":"ab12","is_correct":true}`, &transport.JobRecord{ID: 42, Text: "ab12", IsCorrect: true}},
		{"pending null text", `{"captcha":42,"text":null,"is_correct":false}`, &transport.JobRecord{ID: 42}},
		{"unknown id", `{"status":0,"captcha":0}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDoer{status: 200, body: tt.body}
			tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
			rec, err := tr.Fetch(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec)
			assert.Equal(t, "GET", d.last(t).method)
			assert.Equal(t, "http://dbc.test/api/captcha/42", d.last(t).url)
			assert.Nil(t, d.last(t).body)
		})
	}
}

func TestInvalidResponsesAreUnavailable(t *testing.T) {
	for _, body := range []string{"", "{}", "not json", "[]"} {
		d := &fakeDoer{status: 200, body: body}
		tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
		_, err := tr.Fetch(context.Background(), 1)
		assert.ErrorIs(t, err, transport.ErrUnavailable, "body %q", body)
	}
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	d := &fakeDoer{err: cause}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
	_, err := tr.AccountInfo(context.Background())
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestReportAndAccountInfo(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":5,"text":"x","is_correct":false}`}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
	rec, err := tr.Report(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, rec.IsCorrect)
	assert.Equal(t, "http://dbc.test/api/captcha/5/report", d.last(t).url)
	assert.Equal(t, "POST", d.last(t).method)

	d.body = `{"user":11,"balance":312.5,"is_banned":false}`
	info, err := tr.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &transport.AccountInfo{ID: 11, BalanceCents: 312.5}, info)

	d.body = `{"user":0}`
	info, err = tr.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCloseIsIdempotentAndBlocksCalls(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":1}`}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.Equal(t, 0, d.count())
}

func TestCanceledContextSkipsRequest(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":1}`}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Fetch(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, d.count())
}

func TestOverloadMarksEndpointLimited(t *testing.T) {
	d := &fakeDoer{status: 503}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"), WithRateLimit(ratelimit.DefaultConfig))

	_, err := tr.Fetch(context.Background(), 1)
	require.ErrorIs(t, err, transport.ErrOverloaded)
	require.Equal(t, 1, d.count())

	_, err = tr.Fetch(context.Background(), 1)
	require.ErrorIs(t, err, transport.ErrOverloaded)
	assert.Equal(t, 1, d.count(), "limited endpoint must not reach the network")
}

func TestCancelAbortsInFlightRequest(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":1,"text":"abc","is_correct":true}`, delay: 2 * time.Second}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	rec, err := tr.Fetch(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, rec)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLateResponseAfterCancelIsDiscarded(t *testing.T) {
	d := &fakeDoer{status: 200, body: `{"captcha":1,"text":"abc","is_correct":true}`, delay: 100 * time.Millisecond, ignoreCtx: true}
	tr := newTestTransport(t, d, transport.TokenCredentials("tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rec, err := tr.Fetch(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, rec)
	assert.Equal(t, 1, d.count())
}
