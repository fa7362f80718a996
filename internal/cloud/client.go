package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"duoxme-bridge/internal/model"
)

// Client is a stateless wrapper over the vendor's REST API. Every operation
// takes the access token explicitly; a failed call is reported as an error
// meaning "operation did not happen" and must never abort the session.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Pairings fetches the account's intercom devices and their doors.
func (c *Client) Pairings(ctx context.Context, accessToken string) ([]model.Pairing, error) {
	var pairings []model.Pairing
	if err := c.getJSON(ctx, accessToken, "/pairing/api/v3/pairings/me", nil, &pairings); err != nil {
		return nil, fmt.Errorf("fetching pairings: %w", err)
	}
	return pairings, nil
}

// CallRegistry fetches the recent call/photo list for the device identified
// by the push app token.
func (c *Client) CallRegistry(ctx context.Context, accessToken, appToken string) ([]model.CallRecord, error) {
	query := url.Values{"appToken": {appToken}, "callRegistryType": {"all"}}
	var records []model.CallRecord
	if err := c.getJSON(ctx, accessToken, "/callManager/api/v1/callregistry/participant", query, &records); err != nil {
		return nil, fmt.Errorf("fetching call registry: %w", err)
	}
	return records, nil
}

// Photo resolves a photo id to image bytes. Two-step: the photocall endpoint
// returns a signed URL, then the binary is fetched from that URL.
func (c *Client) Photo(ctx context.Context, accessToken, photoID string) ([]byte, error) {
	query := url.Values{"photoId": {photoID}}
	var resolved struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, accessToken, "/callManager/api/v1/photocall", query, &resolved); err != nil {
		return nil, fmt.Errorf("resolving photo %s: %w", photoID, err)
	}
	if resolved.URL == "" {
		return nil, fmt.Errorf("photo %s: response missing url", photoID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.URL, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching photo binary: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo binary returned %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// OpenDoor sends the directed open-door command for one access id.
func (c *Client) OpenDoor(ctx context.Context, accessToken, deviceID string, accessID model.AccessID) error {
	path := fmt.Sprintf("/deviceaction/api/v1/device/%s/directed-opendoor", url.PathEscape(deviceID))
	log.Printf("cloud: sending open door command for device %s", deviceID)
	if err := c.postJSON(ctx, accessToken, path, accessID, nil); err != nil {
		return fmt.Errorf("open door: %w", err)
	}
	return nil
}

// AcknowledgeNotification marks a push message as attended.
func (c *Client) AcknowledgeNotification(ctx context.Context, accessToken, messageID string) error {
	body := map[string]any{"attended": true, "fcmMessageId": messageID}
	if err := c.postJSON(ctx, accessToken, "/callmanager/api/v1/message/ack", body, nil); err != nil {
		return fmt.Errorf("acknowledge notification: %w", err)
	}
	return nil
}

// RegisterPushToken toggles the device push token's active flag with the
// vendor. active=true on listener start, active=false on stop.
func (c *Client) RegisterPushToken(ctx context.Context, accessToken, deviceToken string, active bool) error {
	body := map[string]any{
		"token":      deviceToken,
		"appVersion": "3.3.2",
		"locale":     "en",
		"os":         "Android",
		"osVersion":  "Android 13",
		"active":     active,
	}
	if err := c.postJSON(ctx, accessToken, "/notification/api/v1/apptoken", body, nil); err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, accessToken, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
