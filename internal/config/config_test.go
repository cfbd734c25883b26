package config

import (
	"os"
	"testing"
	"time"
)

func TestRequireEnv(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		shouldSet bool
		wantPanic bool
	}{
		{
			name:      "variable set",
			key:       "TEST_VAR",
			value:     "test_value",
			shouldSet: true,
			wantPanic: false,
		},
		{
			name:      "variable not set",
			key:       "TEST_VAR_MISSING",
			shouldSet: false,
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("requireEnv() should have panicked")
					}
				}()
			}

			result := requireEnv(tt.key)
			if !tt.wantPanic && result != tt.value {
				t.Errorf("requireEnv() = %v, want %v", result, tt.value)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "fedcheck.example.org", expected: []string{"fedcheck.example.org"}},
		{name: "spaces and quotes", input: ` "a.org", 'b.org' ,c.org`, expected: []string{"a.org", "b.org", "c.org"}},
		{name: "empty parts dropped", input: "a.org,,  ,b.org", expected: []string{"a.org", "b.org"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("splitAndTrim() = %v, want %v", result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("splitAndTrim()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEDCHECK_LOG_LEVEL", "info")

	cfg := Load()

	if cfg.ListenPort != ":8080" {
		t.Errorf("Expected listen port :8080, got %s", cfg.ListenPort)
	}
	if cfg.ProbeConcurrency != 16 {
		t.Errorf("Expected probe concurrency 16, got %d", cfg.ProbeConcurrency)
	}
	if cfg.ProbeTimeout != 30*time.Second {
		t.Errorf("Expected probe timeout 30s, got %v", cfg.ProbeTimeout)
	}
	if cfg.ProbeRetries != 0 {
		t.Errorf("Expected no probe retries, got %d", cfg.ProbeRetries)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Expected Redis disabled by default, got %q", cfg.RedisAddr)
	}
	if cfg.RoomIdleTTL != 7*24*time.Hour {
		t.Errorf("Expected room idle TTL of 7 days, got %v", cfg.RoomIdleTTL)
	}
	url, tester := cfg.ProbeURL()
	if tester {
		t.Error("Expected direct probing by default")
	}
	if url != "https://{server}/_matrix/federation/v1/version" {
		t.Errorf("Expected default probe endpoint, got %s", url)
	}
}

func TestLoadFederationTester(t *testing.T) {
	t.Setenv("FEDCHECK_LOG_LEVEL", "info")
	t.Setenv("FEDCHECK_FEDERATION_TESTER", "https://tester.example/api/report?server_name={server}")

	cfg := Load()

	url, tester := cfg.ProbeURL()
	if !tester {
		t.Error("Expected federation tester to be used")
	}
	if url != "https://tester.example/api/report?server_name={server}" {
		t.Errorf("Expected tester URL, got %s", url)
	}
}

func TestLoadPanics(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "homeserver without token", env: map[string]string{"FEDCHECK_HOMESERVER_URL": "https://matrix.example.org"}},
		{name: "zero concurrency", env: map[string]string{"FEDCHECK_PROBE_CONCURRENCY": "0"}},
		{name: "negative concurrency", env: map[string]string{"FEDCHECK_PROBE_CONCURRENCY": "-2"}},
		{name: "negative timeout", env: map[string]string{"FEDCHECK_PROBE_TIMEOUT": "-1s"}},
		{name: "negative retries", env: map[string]string{"FEDCHECK_PROBE_RETRIES": "-1"}},
		{name: "endpoint without placeholder", env: map[string]string{"FEDCHECK_PROBE_ENDPOINT": "https://example.org/version"}},
		{name: "redis password required", env: map[string]string{
			"FEDCHECK_REDIS_ADDR":              "localhost:6379",
			"FEDCHECK_REDIS_PASSWORD_REQUIRED": "true",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FEDCHECK_LOG_LEVEL", "info")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Load() should have panicked")
				}
			}()
			Load()
		})
	}
}
