package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.admin_api_key", "admin-key")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.Environment != EnvironmentDevelopment {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.PinMaxAttempts != 5 {
		t.Fatalf("expected 5 pin attempts, got %d", cfg.PinMaxAttempts)
	}
	if cfg.PinWindow != 15*time.Minute {
		t.Fatalf("unexpected pin window %s", cfg.PinWindow)
	}
	if cfg.ReadBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected read backoff %s", cfg.ReadBackoff)
	}
	if cfg.Assets.Enabled() {
		t.Fatalf("expected assets to be disabled without a bucket")
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name   string
		values map[string]any
	}{
		{
			name:   "missing-signing-secret",
			values: map[string]any{"auth.admin_api_key": "k"},
		},
		{
			name:   "missing-admin-key",
			values: map[string]any{"auth.signing_secret": "s"},
		},
		{
			name: "unknown-environment",
			values: map[string]any{
				"auth.signing_secret": "s",
				"auth.admin_api_key":  "k",
				"app.environment":     "qa",
			},
		},
		{
			name: "bucket-without-public-url",
			values: map[string]any{
				"auth.signing_secret": "s",
				"auth.admin_api_key":  "k",
				"assets.s3_bucket":    "gifts",
			},
		},
		{
			name: "zero-pin-attempts",
			values: map[string]any{
				"auth.signing_secret": "s",
				"auth.admin_api_key":  "k",
				"pin.max_attempts":    0,
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
