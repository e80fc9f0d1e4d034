// Package config loads lightd's config.json. It mirrors the original
// daemon's direct serde_json::from_str(path) load: no config framework,
// just a struct and encoding/json, since the source this was distilled
// from never reached for one either.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Version       string              `json:"version"`
	Server        ServerConfig        `json:"server"`
	Authorization AuthorizationConfig `json:"authorization"`
	Docker        DockerConfig        `json:"docker"`
	Storage       StorageConfig       `json:"storage"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Remote        *RemoteConfig       `json:"remote,omitempty"`
	SFTP          *SFTPConfig         `json:"sftp,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

type AuthorizationConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type DockerConfig struct {
	SocketPath string `json:"socket_path"`
}

type StorageConfig struct {
	BasePath      string `json:"base_path"`
	ContainersPath string `json:"containers_path"`
	VolumesPath   string `json:"volumes_path"`
}

type MonitoringConfig struct {
	Enabled    bool          `json:"enabled"`
	IntervalMS uint64        `json:"interval_ms"`
	Billing    BillingConfig `json:"billing"`
}

type BillingConfig struct {
	MemoryPerGBHour  float64 `json:"memory_per_gb_hour"`
	CPUPerVCPUHour   float64 `json:"cpu_per_vcpu_hour"`
	StoragePerGBHour float64 `json:"storage_per_gb_hour"`
	EgressPerGB      float64 `json:"egress_per_gb"`
}

type RemoteConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

type SFTPConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    uint16 `json:"port"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
