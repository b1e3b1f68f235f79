package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "monitor":
		return monitorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `socket = "/run/user/1000/wayland-0"
side = "client"
debug = false
eager_flush = false

[dial]
attempts = 5
initial_delay = "100ms"
max_delay = "2s"
multiplier = 2.0
jitter = true
`

const monitorTemplate = `socket = "/run/user/1000/wayland-0"
admin_addr = "127.0.0.1:7070"
poll_interval = "1s"
reconnect = true
debug = false
cors_origins = ["http://localhost:3000"]
dial_attempts = 5
backoff_max = "2s"
`
