package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "loxodon" {
		t.Errorf("Expected Name 'loxodon', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  domain: example.com
  protocol: https
  pageSize: 50
  dbFile: test.db
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.Domain != "example.com" {
		t.Errorf("Expected Domain 'example.com', got '%s'", config.Conf.Domain)
	}

	if config.Conf.PageSize != 50 {
		t.Errorf("Expected PageSize 50, got %d", config.Conf.PageSize)
	}

	if config.Conf.DbFile != "test.db" {
		t.Errorf("Expected DbFile 'test.db', got '%s'", config.Conf.DbFile)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  domain: example.com
  protocol: https
  pageSize: 20
  dbFile: test.db
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("LOXODON_HOST", "192.168.1.1")
	os.Setenv("LOXODON_HTTPPORT", "8080")
	os.Setenv("LOXODON_DOMAIN", "test.example.com")
	os.Setenv("LOXODON_PROTOCOL", "http")
	os.Setenv("LOXODON_PAGESIZE", "10")
	os.Setenv("LOXODON_DBFILE", "override.db")

	defer func() {
		os.Unsetenv("LOXODON_HOST")
		os.Unsetenv("LOXODON_HTTPPORT")
		os.Unsetenv("LOXODON_DOMAIN")
		os.Unsetenv("LOXODON_PROTOCOL")
		os.Unsetenv("LOXODON_PAGESIZE")
		os.Unsetenv("LOXODON_DBFILE")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// Environment variables should override YAML values
	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.Domain != "test.example.com" {
		t.Errorf("Expected Domain 'test.example.com' from env, got '%s'", config.Conf.Domain)
	}

	if config.Conf.Protocol != "http" {
		t.Errorf("Expected Protocol 'http' from env, got '%s'", config.Conf.Protocol)
	}

	if config.Conf.PageSize != 10 {
		t.Errorf("Expected PageSize 10 from env, got %d", config.Conf.PageSize)
	}

	if config.Conf.DbFile != "override.db" {
		t.Errorf("Expected DbFile 'override.db' from env, got '%s'", config.Conf.DbFile)
	}
}

func TestReadConfMissingFileUsesDefaults(t *testing.T) {
	os.Remove("config.yaml")
	// Point the user config dir at an empty home
	t.Setenv("HOME", t.TempDir())

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Protocol != "https" {
		t.Errorf("Expected default protocol 'https', got '%s'", config.Conf.Protocol)
	}

	if config.Conf.PageSize != 20 {
		t.Errorf("Expected default PageSize 20, got %d", config.Conf.PageSize)
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	invalidYaml := `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`
	err := os.WriteFile("config.yaml", []byte(invalidYaml), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	_, err = ReadConf()
	if err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfInvalidProtocol(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  domain: example.com
  protocol: ftp
  pageSize: 20
  dbFile: test.db
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	_, err = ReadConf()
	if err == nil {
		t.Error("Expected error for unsupported protocol")
	}
}
