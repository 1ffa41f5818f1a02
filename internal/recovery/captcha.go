package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaValidator is the narrow contract this core needs from the external
// bot-detection service.
type CaptchaValidator interface {
	IsValid(ctx context.Context, token string) (bool, error)
}

const defaultCaptchaTimeout = 5 * time.Second

// CaptchaConfig configures the HTTP captcha validator.
type CaptchaConfig struct {
	Enabled  bool
	Endpoint string
	Secret   string
	Timeout  time.Duration
}

// HTTPCaptchaValidator verifies tokens against a siteverify-style endpoint.
// When disabled it accepts every token, mirroring how outbound mail is
// optional in development deployments.
type HTTPCaptchaValidator struct {
	cfg    CaptchaConfig
	client *http.Client
}

// NewHTTPCaptchaValidator builds a validator. An enabled configuration
// requires both endpoint and secret.
func NewHTTPCaptchaValidator(cfg CaptchaConfig) (*HTTPCaptchaValidator, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, errors.New("captcha: endpoint is required when enabled")
		}
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("captcha: secret is required when enabled")
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCaptchaTimeout
	}

	return &HTTPCaptchaValidator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (v *HTTPCaptchaValidator) IsValid(ctx context.Context, token string) (bool, error) {
	if !v.cfg.Enabled {
		return true, nil
	}
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {v.cfg.Secret},
		"response": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha: verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha: verify endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("captcha: decode response: %w", err)
	}

	return payload.Success, nil
}

var _ CaptchaValidator = (*HTTPCaptchaValidator)(nil)
