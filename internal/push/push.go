// Package push delivers notifications to registered device tokens.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUnregistered marks a send failure caused by a dead or invalid device
// token. Callers use it to decide which registrations to prune.
var ErrUnregistered = errors.New("push token is not registered")

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Message is one push delivery.
type Message struct {
	Token        string            `json:"-"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// Sender delivers a message to a single device token.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts messages to an FCM-style legacy HTTP endpoint using a
// server key.
type HTTPSender struct {
	serverKey string
	endpoint  string
	client    *http.Client
}

// NewHTTPSender creates a sender bound to the given HTTP client.
func NewHTTPSender(client *http.Client, serverKey string) *HTTPSender {
	return &HTTPSender{
		serverKey: serverKey,
		endpoint:  "https://fcm.googleapis.com/fcm/send",
		client:    client,
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	payload := struct {
		To           string            `json:"to"`
		Notification Notification      `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
	}{
		To:           msg.Token,
		Notification: msg.Notification,
		Data:         msg.Data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		Failure int `json:"failure"`
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return err
	}

	if result.Failure > 0 {
		for _, r := range result.Results {
			switch r.Error {
			case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
				return fmt.Errorf("%w: %s", ErrUnregistered, r.Error)
			}
		}
		return fmt.Errorf("push delivery failed: %s", firstError(result.Results))
	}
	return nil
}

func firstError(results []struct {
	Error string `json:"error"`
}) string {
	for _, r := range results {
		if r.Error != "" {
			return r.Error
		}
	}
	return "unknown"
}
