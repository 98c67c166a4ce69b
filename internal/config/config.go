// Package config defines the flat JSON-backed configuration shared by
// both ends of a netpipefs session.
package config

import (
	"encoding/json"
	"os"
)

// Config carries every option a mount needs: its own listen port, how
// to reach the peer, the local pipe buffer size, and the toggles for
// transport and compression.
type Config struct {
	ListenPort   int    `json:"listen_port"`
	PeerHost     string `json:"peer_host"`
	PeerPort     int    `json:"peer_port"`
	PipeCapacity int    `json:"pipe_capacity"`
	TimeoutMS    int    `json:"timeout_ms"`
	Mountpoint   string `json:"mountpoint"`
	Debug        bool   `json:"debug"`
	Quiet        bool   `json:"quiet"`
	Transport    string `json:"transport"`
	Compress     bool   `json:"compress"`
}

// Default mirrors the field values the netpipefs command-line flags
// default to, before any flag or JSON config value is applied.
func Default() Config {
	return Config{
		ListenPort:   12946,
		PeerPort:     12946,
		PipeCapacity: 65536,
		TimeoutMS:    30000,
		Transport:    "tcp",
	}
}

// ParseJSONFile decodes a JSON config file into cfg, overwriting only
// the fields present in the file.
func ParseJSONFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(cfg)
}
