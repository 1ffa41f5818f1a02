package app

import (
	"strings"

	"github.com/orderdesk/orderdesk/internal/recovery"
)

// ServiceConfig converts RecoveryConfig into the recovery package representation.
func (c RecoveryConfig) ServiceConfig() recovery.Config {
	return recovery.Config{
		SessionTTL:       c.SessionTTL,
		LockoutThreshold: c.LockoutThreshold,
		LockoutDuration:  c.LockoutDuration,
	}
}

// ValidatorConfig converts CaptchaConfig into the recovery package representation.
func (c CaptchaConfig) ValidatorConfig() recovery.CaptchaConfig {
	return recovery.CaptchaConfig{
		Enabled:  c.Enabled,
		Endpoint: strings.TrimSpace(c.Endpoint),
		Secret:   strings.TrimSpace(c.Secret),
		Timeout:  c.Timeout,
	}
}
