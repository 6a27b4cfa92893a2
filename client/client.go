// Package client is the Go client for the GuftaGu relay: REST snapshot and
// admission calls, the long-lived event channel, client-side history
// reconciliation, and the desktop notification policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/owesh74/Guftagu/internal/model"
)

// MaxAttachmentSize mirrors the relay's upload ceiling. Checked before any
// upload is attempted so an oversized file fails locally, without a network
// round trip.
const MaxAttachmentSize = 30 * 1024 * 1024

var (
	ErrInvalidInput       = errors.New("required field is empty")
	ErrGroupNotFound      = errors.New("group not found")
	ErrCharacterNotFound  = errors.New("character not found")
	ErrNameTaken          = errors.New("name already taken")
	ErrWrongSecret        = errors.New("wrong PIN")
	ErrAttachmentTooLarge = errors.New("file is too large, max 30MB")
	ErrUploadFailed       = errors.New("upload failed")

	// ErrUnknownOutcome means a publish or subscribe timed out in flight.
	// The operation may or may not have taken effect; re-publishing blindly
	// risks duplicates, so the decision is left to the caller.
	ErrUnknownOutcome = errors.New("no reply from relay, outcome unknown")
)

// Session is the client-held identity after a successful admission. The relay
// keeps no session state; these credentials are re-presented for every
// identity-gated action.
type Session struct {
	Group     string
	Character string
	Secret    string
}

// Client talks to the relay's REST surface.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateGroup creates a group, optionally registering the first character.
func (c *Client) CreateGroup(ctx context.Context, group, character, pin string) error {
	if group == "" {
		return ErrInvalidInput
	}
	body := map[string]string{"groupName": group}
	if character != "" {
		body["characterName"] = character
		body["pin"] = pin
	}
	return c.doJSON(ctx, http.MethodPost, "/api/groups", body, nil)
}

// Snapshot fetches the point-in-time read of a group: character roster plus
// full ordered message history.
func (c *Client) Snapshot(ctx context.Context, group string) (*model.GroupSnapshot, error) {
	var snap model.GroupSnapshot
	path := "/api/groups/" + url.PathEscape(group)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Join performs the admission exchange and returns the resulting session.
// Re-admission with the same credentials is idempotent.
func (c *Client) Join(ctx context.Context, group, character, pin string, isNew bool) (Session, error) {
	if character == "" || pin == "" {
		return Session{}, ErrInvalidInput
	}
	body := map[string]any{"name": character, "pin": pin, "isNew": isNew}
	path := "/api/groups/" + url.PathEscape(group) + "/join"
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return Session{}, err
	}
	return Session{Group: group, Character: character, Secret: pin}, nil
}

// Upload sends a file to the attachment store and returns its descriptor.
// The size ceiling is enforced before the request is built.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (model.Attachment, error) {
	if len(data) > MaxAttachmentSize {
		return model.Attachment{}, ErrAttachmentTooLarge
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return model.Attachment{}, err
	}
	if _, err := part.Write(data); err != nil {
		return model.Attachment{}, err
	}
	if err := w.Close(); err != nil {
		return model.Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload", &buf)
	if err != nil {
		return model.Attachment{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %s", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return model.Attachment{}, decodeAPIError(resp)
	}

	var out struct {
		FileURL  string               `json:"fileUrl"`
		FileName string               `json:"fileName"`
		FileType model.AttachmentKind `json:"fileType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %s", ErrUploadFailed, err)
	}
	return model.Attachment{URL: out.FileURL, Name: out.FileName, Kind: out.FileType}, nil
}

// Dial opens the relay's event channel. One call per process; the returned
// Conn is reused across room views for its whole lifetime.
func (c *Client) Dial() (*Conn, error) {
	wsURL := c.BaseURL + "/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return DialConn(wsURL)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &payload)

	sentinel := map[string]error{
		"invalid_input":        ErrInvalidInput,
		"group_not_found":      ErrGroupNotFound,
		"character_not_found":  ErrCharacterNotFound,
		"name_taken":           ErrNameTaken,
		"wrong_secret":         ErrWrongSecret,
		"attachment_too_large": ErrAttachmentTooLarge,
	}[payload.Code]

	if sentinel == nil {
		if payload.Error != "" {
			return fmt.Errorf("relay error (%d): %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("relay error (%d)", resp.StatusCode)
	}
	if payload.Error != "" {
		return fmt.Errorf("%w: %s", sentinel, payload.Error)
	}
	return sentinel
}
