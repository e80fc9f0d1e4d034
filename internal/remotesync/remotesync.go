// Package remotesync implements the narrow remote-sync collaborator
// named in spec.md §6: a status/error update push to an operator-side
// control plane. Uses the fiber ecosystem's own HTTP client rather than
// adding an unrelated one, keeping the dependency surface inside the
// fiber family the rest of the daemon already pulls in.
package remotesync

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Client pushes install/runtime status changes to a remote control
// plane. A nil *Client (remote sync disabled) is handled by callers, not
// by this package, keeping the zero-value unsafe-to-call by design.
type Client struct {
	baseURL string
	token   string
	agent   *fiber.Client
}

func New(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, agent: &fiber.Client{}}
}

type statusPayload struct {
	InternalID string `json:"internal_id"`
	Status     string `json:"status"`
}

type errorPayload struct {
	InternalID string `json:"internal_id"`
	Error      string `json:"error"`
	Data       string `json:"data"`
}

// SendStatusUpdate notifies the remote side of a plain state change
// (e.g. "installed").
func (c *Client) SendStatusUpdate(ctx context.Context, internalID, status string) error {
	code, _, errs := c.agent.Post(c.baseURL+"/status").
		Set("Authorization", "Bearer "+c.token).
		JSON(statusPayload{InternalID: internalID, Status: status}).
		Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("remote-sync status update: %w", errs[0])
	}
	if code >= 300 {
		return fmt.Errorf("remote-sync status update: unexpected status %d", code)
	}
	return nil
}

// SendErrorUpdate notifies the remote side of a failure, carrying both
// the short error tag (e.g. "failed") and a free-form data string (e.g.
// "install exit 7") per spec.md scenario 4.
func (c *Client) SendErrorUpdate(ctx context.Context, internalID, errTag, data string) error {
	code, _, errs := c.agent.Post(c.baseURL+"/error").
		Set("Authorization", "Bearer "+c.token).
		JSON(errorPayload{InternalID: internalID, Error: errTag, Data: data}).
		Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("remote-sync error update: %w", errs[0])
	}
	if code >= 300 {
		log.Warn().Int("status", code).Msg("remote-sync error update rejected")
	}
	return nil
}
