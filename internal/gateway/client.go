// ABOUTME: Typed HTTP client for the external WhatsApp gateway REST API
// ABOUTME: Covers instance provisioning, connection state, pairing, text send, and media download

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds every gateway call. Provisioning calls chain
// several upstream operations, so this is intentionally generous.
const DefaultTimeout = 60 * time.Second

// Client is a typed HTTP client for the WhatsApp gateway. Instance
// management calls authenticate with the global API key; per-instance
// calls (SendText, DownloadMedia) use the instance credential issued at
// creation time.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a gateway client for the given base URL and global API key.
// A zero timeout falls back to DefaultTimeout.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "gateway"),
	}
}

// Instance is the provisioning result for a newly created instance.
type Instance struct {
	Name   string `json:"instanceName"`
	APIKey string `json:"apikey"`
}

// ConnectionState describes an instance's connection to WhatsApp.
type ConnectionState struct {
	Instance string `json:"instance"`
	State    string `json:"state"` // "open", "connecting", "close"
}

// Pairing carries the artifacts needed to link an instance to a phone.
type Pairing struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	QRBase64    string `json:"base64"`
}

// createInstanceRequest is the provisioning call payload.
type createInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration"`
}

type createInstanceResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
	} `json:"instance"`
	Hash struct {
		APIKey string `json:"apikey"`
	} `json:"hash"`
}

// CreateInstance provisions a new gateway instance and returns its name
// and per-instance credential.
func (c *Client) CreateInstance(ctx context.Context, name string) (*Instance, error) {
	body := createInstanceRequest{
		InstanceName: name,
		QRCode:       true,
		Integration:  "WHATSAPP-BAILEYS",
	}
	var resp createInstanceResponse
	if err := c.do(ctx, http.MethodPost, "/instance/create", c.apiKey, body, &resp); err != nil {
		return nil, err
	}
	return &Instance{Name: resp.Instance.InstanceName, APIKey: resp.Hash.APIKey}, nil
}

// DeleteInstance removes a gateway instance.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+name, c.apiKey, nil, nil)
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// GetConnectionState fetches the connection state of an instance.
func (c *Client) GetConnectionState(ctx context.Context, name string) (*ConnectionState, error) {
	var resp connectionStateResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+name, c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	return &ConnectionState{Instance: resp.Instance.InstanceName, State: resp.Instance.State}, nil
}

// Connect fetches the pairing code and QR artifact for an instance.
func (c *Client) Connect(ctx context.Context, name string) (*Pairing, error) {
	var resp Pairing
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+name, c.apiKey, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// sendTextRequest is the send-text payload: number + text against a
// per-instance credentialed endpoint.
type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText sends a text message through the named instance using its
// per-instance credential.
func (c *Client) SendText(ctx context.Context, instance, apiKey, number, text string) error {
	body := sendTextRequest{Number: number, Text: text}
	return c.do(ctx, http.MethodPost, "/message/sendText/"+instance, apiKey, body, nil)
}

type downloadMediaRequest struct {
	Message struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	} `json:"message"`
	ConvertToMp4 bool `json:"convertToMp4"`
}

type downloadMediaResponse struct {
	Base64 string `json:"base64"`
}

// DownloadMedia fetches the base64-encoded payload of a media message by
// its provider message id. An empty result means the gateway had nothing
// for the id.
func (c *Client) DownloadMedia(ctx context.Context, instance, apiKey, messageID string) (string, error) {
	var body downloadMediaRequest
	body.Message.Key.ID = messageID
	var resp downloadMediaResponse
	if err := c.do(ctx, http.MethodPost, "/chat/getBase64FromMediaMessage/"+instance, apiKey, body, &resp); err != nil {
		return "", err
	}
	return resp.Base64, nil
}

// do executes one gateway call and decodes the response into out, if any.
// Every failure is normalized into *APIError.
func (c *Client) do(ctx context.Context, method, path, apiKey string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures surface as retryable
		return &APIError{Status: http.StatusGatewayTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("gateway call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return &APIError{Status: resp.StatusCode, Message: string(msg)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}
