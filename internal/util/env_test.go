package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{" true ", false, true},
	}
	for _, c := range cases {
		t.Setenv("UTIL_TEST_BOOL", c.value)
		if got := ParseBoolEnv("UTIL_TEST_BOOL", c.def); got != c.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.expected)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("UTIL_TEST_DUR", "750ms")
	if got := ParseDurationEnv("UTIL_TEST_DUR", time.Second); got != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", got)
	}
	t.Setenv("UTIL_TEST_DUR", "not-a-duration")
	if got := ParseDurationEnv("UTIL_TEST_DUR", 2*time.Second); got != 2*time.Second {
		t.Errorf("expected default 2s, got %v", got)
	}
	t.Setenv("UTIL_TEST_DUR", "")
	if got := ParseDurationEnv("UTIL_TEST_DUR", 5*time.Second); got != 5*time.Second {
		t.Errorf("expected default 5s, got %v", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	if got := ParseIntEnv("UTIL_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("UTIL_TEST_INT", "4x2")
	if got := ParseIntEnv("UTIL_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}
