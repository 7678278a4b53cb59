package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "loxodon"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string
		HttpPort int    `yaml:"httpPort"`
		Domain   string `yaml:"domain"`
		Protocol string `yaml:"protocol"`
		PageSize int    `yaml:"pageSize"`
		DbFile   string `yaml:"dbFile"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("LOXODON_HOST")
	envHttpPort := os.Getenv("LOXODON_HTTPPORT")
	envDomain := os.Getenv("LOXODON_DOMAIN")
	envProtocol := os.Getenv("LOXODON_PROTOCOL")
	envPageSize := os.Getenv("LOXODON_PAGESIZE")
	envDbFile := os.Getenv("LOXODON_DBFILE")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envProtocol != "" {
		c.Conf.Protocol = envProtocol
	}

	if envPageSize != "" {
		v, err := strconv.Atoi(envPageSize)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.PageSize = v
	}

	if envDbFile != "" {
		c.Conf.DbFile = envDbFile
	}

	if c.Conf.Protocol != "http" && c.Conf.Protocol != "https" {
		return nil, fmt.Errorf("protocol must be http or https, got %q", c.Conf.Protocol)
	}

	return c, nil
}
