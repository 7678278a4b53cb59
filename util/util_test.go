package util

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("GetVersion returned empty string")
	}
	if strings.TrimSpace(version) != version {
		t.Errorf("Version should be trimmed, got '%s'", version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	expected := "loxodon / " + GetVersion()

	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "loxodon/") {
		t.Errorf("Unexpected user agent prefix: %s", ua)
	}
	if !strings.HasSuffix(ua, "ActivityPub") {
		t.Errorf("Unexpected user agent suffix: %s", ua)
	}
}

func TestPrettyPrint(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{
			name:  "simple map",
			input: map[string]string{"key": "value"},
		},
		{
			name:  "nested structure",
			input: map[string]interface{}{"outer": map[string]int{"inner": 42}},
		},
		{
			name:  "array",
			input: []int{1, 2, 3, 4, 5},
		},
		{
			name:  "string",
			input: "simple string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PrettyPrint(tt.input)
			if len(result) == 0 {
				t.Error("PrettyPrint returned empty string")
			}
		})
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair := GeneratePemKeypair()

	if keypair == nil {
		t.Fatal("GeneratePemKeypair returned nil")
	}

	if !strings.Contains(keypair.Private, "BEGIN RSA PRIVATE KEY") {
		t.Error("Private key doesn't have PEM header")
	}
	if !strings.Contains(keypair.Private, "END RSA PRIVATE KEY") {
		t.Error("Private key doesn't have PEM footer")
	}

	if !strings.Contains(keypair.Public, "BEGIN PUBLIC KEY") {
		t.Error("Public key doesn't have PEM header")
	}
	if !strings.Contains(keypair.Public, "END PUBLIC KEY") {
		t.Error("Public key doesn't have PEM footer")
	}
}

func TestGeneratePemKeypairUniqueness(t *testing.T) {
	keypair1 := GeneratePemKeypair()
	keypair2 := GeneratePemKeypair()

	if keypair1.Private == keypair2.Private {
		t.Error("Generated keypairs should be different")
	}
	if keypair1.Public == keypair2.Public {
		t.Error("Generated public keys should be different")
	}
}
