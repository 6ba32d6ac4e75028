package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"e2e_trust/internal/model"
	"e2e_trust/internal/service/trust"
)

type (
	// Client talks to the homeserver's key API. It implements trust.Server
	// and backs the Directory.
	Client struct {
		host string
	}

	queryResult struct {
		CrossSigning *model.CrossSigningInfo `json:"cross_signing,omitempty"`
		Devices      []*model.DeviceKeys     `json:"devices,omitempty"`
	}
)

var _ trust.Server = (*Client)(nil)

func NewClient(host string) *Client {
	return &Client{host: host}
}

func (c *Client) Register(ctx context.Context, userID, password string) error {
	body := map[string]string{
		"user_id":  userID,
		"password": password,
	}
	status, err := c.postJSON(ctx, "/register", body)
	if err != nil {
		return err
	}
	// Conflict just means the account already exists.
	if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("%w: register returned %d", trust.ErrNetwork, status)
	}
	return nil
}

func (c *Client) UploadDeviceKeys(ctx context.Context, device *model.DeviceKeys) error {
	status, err := c.postJSON(ctx, "/keys/device", device)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: device upload returned %d", trust.ErrNetwork, status)
	}
	return nil
}

func (c *Client) UploadCrossSigningKeys(ctx context.Context, info *model.CrossSigningInfo, password string) error {
	body := map[string]any{
		"auth": map[string]string{
			"user_id":  info.UserID,
			"password": password,
		},
		"master_key":       info.MasterKey,
		"self_signing_key": info.SelfSigningKey,
		"user_signing_key": info.UserSigningKey,
	}
	status, err := c.postJSON(ctx, "/keys/cross_signing", body)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: cross-signing upload for %s", trust.ErrAuth, info.UserID)
	default:
		return fmt.Errorf("%w: cross-signing upload returned %d", trust.ErrNetwork, status)
	}
}

func (c *Client) UploadSignatures(ctx context.Context, sigs map[string]map[string]model.SignatureUpload) error {
	body := map[string]any{
		"signatures": sigs,
	}
	status, err := c.postJSON(ctx, "/keys/signatures", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: signatures upload returned %d", trust.ErrNetwork, status)
	}
	return nil
}

func (c *Client) QueryKeys(ctx context.Context, userID, requester string) (*queryResult, error) {
	params := url.Values{
		"requester": []string{requester},
	}
	u := url.URL{
		Scheme:   "http",
		Host:     c.host,
		Path:     fmt.Sprintf("/keys/query/%s", userID),
		RawQuery: params.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrNetwork, err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key query returned %d", trust.ErrNetwork, resp.StatusCode)
	}

	var result queryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode key query: %v", trust.ErrNetwork, err)
	}
	return &result, nil
}

func (c *Client) DialUpdates(userID, deviceID string) (*websocket.Conn, error) {
	params := url.Values{
		"userID":   []string{userID},
		"deviceID": []string{deviceID},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     c.host,
		Path:     "/updates",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrNetwork, err)
	}
	return conn, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   path,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", trust.ErrNetwork, err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
