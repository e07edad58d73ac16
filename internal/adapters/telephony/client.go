// Package telephony is a REST client for a LaML-style telephony provider.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/core"
)

const defaultHTTPTimeout = 30 * time.Second

// ProviderError is a non-2xx answer from the provider. The body stays in
// the server log and in this value; it never reaches a browser.
type ProviderError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
}

// Client implements core.TelephonyGateway.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With().Str("module", "telephony").Logger(),
	}
}

type conferenceForm struct {
	FriendlyName           string `url:"FriendlyName"`
	StartConferenceOnEnter bool   `url:"StartConferenceOnEnter"`
	EndConferenceOnExit    bool   `url:"EndConferenceOnExit"`
	Record                 string `url:"Record,omitempty"`
}

type callForm struct {
	To                  string   `url:"To"`
	From                string   `url:"From"`
	Twiml               string   `url:"Twiml"`
	StatusCallback      string   `url:"StatusCallback,omitempty"`
	StatusCallbackEvent []string `url:"StatusCallbackEvent,omitempty"`
	Timeout             int      `url:"Timeout,omitempty"`
}

type hangupForm struct {
	Status string `url:"Status"`
}

type resource struct {
	SID string `json:"sid"`
}

func (c *Client) CreateConference(ctx context.Context, req core.ConferenceRequest) (string, error) {
	form := conferenceForm{
		FriendlyName:           req.Name,
		StartConferenceOnEnter: req.StartOnEnter,
		EndConferenceOnExit:    req.EndOnExit,
	}
	if req.Record {
		form.Record = "record-from-start"
	}
	var out resource
	if err := c.post(ctx, "/Conferences.json", form, &out); err != nil {
		return "", err
	}
	return out.SID, nil
}

func (c *Client) CreateCall(ctx context.Context, req core.CallRequest) (string, error) {
	form := callForm{
		To:             req.To,
		From:           req.From,
		Twiml:          req.Instructions,
		StatusCallback: req.StatusCallback,
		Timeout:        int(req.RingTimeout / time.Second),
	}
	if req.StatusCallback != "" {
		form.StatusCallbackEvent = []string{"initiated", "ringing", "answered", "completed"}
	}
	var out resource
	if err := c.post(ctx, "/Calls.json", form, &out); err != nil {
		return "", err
	}
	return out.SID, nil
}

// EndCall maps the provider's 404 to core.ErrLegNotFound.
func (c *Client) EndCall(ctx context.Context, legID string) error {
	err := c.post(ctx, "/Calls/"+url.PathEscape(legID)+".json", hangupForm{Status: "completed"}, nil)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", core.ErrLegNotFound, legID)
	}
	return err
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + "/Accounts/" + url.PathEscape(c.cfg.AccountSID) + path
}

// post sends a form and decodes a JSON answer into out when out is non-nil.
// Transport failures and 5xx wrap core.ErrGatewayUnavailable.
func (c *Client) post(ctx context.Context, path string, form any, out any) error {
	values, err := query.Values(form)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", core.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, perr)
		if perr.Message == "" {
			perr.Message = strings.TrimSpace(string(body))
		}
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Int("code", perr.Code).Str("body", string(body)).Msg("provider rejected request")
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", core.ErrGatewayUnavailable, perr)
		}
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
