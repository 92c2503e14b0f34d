package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// API is the outbound HTTP client shared by provider modules.
type API struct {
	HTTP *http.Client
	Log  *zap.Logger
}

func NewAPI(timeout time.Duration, log *zap.Logger) *API {
	return &API{
		HTTP: &http.Client{Timeout: timeout},
		Log:  log,
	}
}

// PostJSON sends body as JSON and decodes the reply into out.
func (a *API) PostJSON(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrThirdPartyAPI, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThirdPartyAPI, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, headers, out)
}

// PostForm sends form as application/x-www-form-urlencoded.
func (a *API) PostForm(ctx context.Context, endpoint string, headers map[string]string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThirdPartyAPI, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req, headers, out)
}

func (a *API) Get(ctx context.Context, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThirdPartyAPI, err)
	}
	return a.do(req, headers, out)
}

func (a *API) do(req *http.Request, headers map[string]string, out any) error {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	start := time.Now()

	resp, err := a.HTTP.Do(req)
	if err != nil {
		a.Log.Error("[API] request failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrThirdPartyAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrThirdPartyAPI, err)
	}

	a.Log.Debug("[API] response",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s returned %s", ErrThirdPartyAPI, req.Method, req.URL.Path, resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrThirdPartyAPI, err)
	}
	return nil
}
