// Package notifier delivers fire events to the messaging webhook.
//
// Delivery is best-effort by contract: the trigger engine logs a failed
// call and moves on; nothing here retries.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	logx "ayod/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrDelivery marks a non-2xx (or transport-level) webhook outcome.
var ErrDelivery = errors.New("webhook delivery failed")

// Config controls the webhook client.
type Config struct {
	// BaseURL is the messaging API root; fire calls POST to
	// BaseURL/intent and BaseURL/template.
	BaseURL string

	// PhoneNumberID identifies the sending number, forwarded verbatim.
	PhoneNumberID string

	// SenderName is the user_name stamped on outbound payloads.
	SenderName string

	Timeout    time.Duration
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.SenderName == "" {
		c.SenderName = "Ayo Scheduler"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

// Service implements trigger.Firer over HTTP.
type Service struct {
	cfg     Config
	log     logx.Logger
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("notifier: webhook base url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

type intentPayload struct {
	UserID        string `json:"user_id"`
	IntentName    string `json:"intent_name"`
	QueryValue    string `json:"query_value"`
	PhoneNumberID string `json:"phone_number_id"`
	UserName      string `json:"user_name"`
}

type templatePayload struct {
	UserID        string `json:"user_id"`
	PhoneNumberID string `json:"phone_number_id"`
	UserName      string `json:"user_name"`
}

// FireIntent posts a generic intent call for the user.
func (s *Service) FireIntent(ctx context.Context, userID, intent, qualifier string) error {
	return s.post(ctx, "/intent", intentPayload{
		UserID:        userID,
		IntentName:    intent,
		QueryValue:    qualifier,
		PhoneNumberID: s.cfg.PhoneNumberID,
		UserName:      s.cfg.SenderName,
	})
}

// FireTemplate posts the template notification (medication path).
func (s *Service) FireTemplate(ctx context.Context, userID string) error {
	return s.post(ctx, "/template", templatePayload{
		UserID:        userID,
		PhoneNumberID: s.cfg.PhoneNumberID,
		UserName:      s.cfg.SenderName,
	})
}

func (s *Service) post(ctx context.Context, path string, payload any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDelivery, err)
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrDelivery, path, resp.StatusCode)
	}
	s.log.Debug("webhook delivered", logx.String("path", path), logx.Int("status", resp.StatusCode))
	return nil
}
