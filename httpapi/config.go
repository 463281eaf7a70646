package httpapi

import (
	"path"
	"strings"
)

// UserHeader carries the caller identity on every API request.
const UserHeader = "X-Querydesk-User"

// Config defines HTTP API settings.
type Config struct {
	Addr string
	// BasePath mounts every route under a prefix, e.g. "/querydesk".
	BasePath string
	// DefaultUser is used when a request has no UserHeader.
	DefaultUser string
	// HubHistory bounds the per-user event replay buffer.
	HubHistory int
}

// mountPath returns the cleaned base path, or "" for the root.
func (c Config) mountPath() string {
	value := strings.TrimSpace(c.BasePath)
	if value == "" {
		return ""
	}
	cleaned := path.Clean("/" + value)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}
