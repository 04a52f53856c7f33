package apiclient

import (
	"github.com/cryptblk/cryptblk/internal/cli/health"
)

// Health returns the server liveness response. The endpoint is
// unauthenticated, so no token is required.
func (c *Client) Health() (*health.Response, error) {
	return getResource[health.Response](c, "/health")
}
