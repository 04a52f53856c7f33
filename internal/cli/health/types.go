// Package health holds the wire shape of the server's /health endpoint,
// shared by the server status command and the API client.
package health

// ServiceInfo is the payload of a healthy response.
type ServiceInfo struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Response is the body of GET /health.
type Response struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Data      ServiceInfo `json:"data"`
	Error     string      `json:"error,omitempty"`
}
