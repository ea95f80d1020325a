package privacy

import (
	"testing"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice.smith@example.com", "al*********@example.com"},
		{"bo@example.com", "**@example.com"},
		{"x@example.com", "*@example.com"},
		{"@example.com", "@example.com"},
		{"", ""},
		{"not-an-address", "**********ress"},
		{"odd@local@example.com", "od*******@example.com"},
	}

	for _, test := range tests {
		result := MaskEmail(test.input)
		if result != test.expected {
			t.Errorf("MaskEmail(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskMessageID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"6f1c2e8a-3b0d-4a51-9e77-1c2d3e4f5a6b", "****************************3e4f5a6b"},
		{"short", "*****"},
		{"", ""},
	}

	for _, test := range tests {
		result := MaskMessageID(test.input)
		if result != test.expected {
			t.Errorf("MaskMessageID(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	fields := map[string]interface{}{
		"recipient":      "alice@example.com",
		"correlation_id": "user-123456",
		"api_key":        "sk_live_abc",
		"attempt":        2,
		"status":         "pending",
	}

	masked := MaskSensitiveFields(fields)

	if masked["recipient"] != "al***@example.com" {
		t.Errorf("recipient not masked: %v", masked["recipient"])
	}
	if masked["correlation_id"] != "*******3456" {
		t.Errorf("correlation_id not masked: %v", masked["correlation_id"])
	}
	if masked["api_key"] != "***" {
		t.Errorf("api_key not masked: %v", masked["api_key"])
	}
	if masked["attempt"] != 2 || masked["status"] != "pending" {
		t.Errorf("non-sensitive fields changed: %v", masked)
	}
	if fields["recipient"] != "alice@example.com" {
		t.Error("input map must not be modified")
	}
	if MaskSensitiveFields(nil) != nil {
		t.Error("expected nil for nil input")
	}
}
