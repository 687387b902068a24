package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lagren/certwatch/notify"
)

const DefaultEndpoint = "https://slack.com/api/chat.postMessage"

// Notifier posts notifications to a Slack channel.
type Notifier struct {
	Token     string
	ChannelID string
	Endpoint  string
	Client    *http.Client
}

func NewNotifier(token, channelID string) *Notifier {
	return &Notifier{
		Token:     token,
		ChannelID: channelID,
		Endpoint:  DefaultEndpoint,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Notify(ctx context.Context, m notify.Message) error {
	return n.PostMessage(ctx, fmt.Sprintf("*%s*\n%s", m.Subject, m.Body))
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (n *Notifier) PostMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"channel": n.ChannelID,
		"text":    text,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not post message: %w", err)
	}
	defer resp.Body.Close()

	b, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	var pr postMessageResponse
	if err := json.Unmarshal(b, &pr); err != nil {
		return fmt.Errorf("could not parse slack response: %w", err)
	}

	if !pr.OK {
		return fmt.Errorf("slack rejected message: %s", pr.Error)
	}

	return nil
}
