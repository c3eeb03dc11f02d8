package modlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/modwarden/warden/util"
)

// Forwards records to a Slack channel via "incoming webhook". Only failure kinds and the kinds listed in Kinds are sent; an empty Kinds sends everything.
type SlackLog struct {
	WebhookURL string
	Kinds      map[Kind]bool
	Client     *http.Client
}

type slackWebhookBody struct {
	Text string `json:"text"`
}

func NewSlackLog(webhookURL string, logger *slog.Logger, kinds ...Kind) *SlackLog {
	if logger == nil {
		logger = slog.Default()
	}
	l := &SlackLog{
		WebhookURL: webhookURL,
		Client:     util.RobustHTTPClient(logger.With("component", "slack")),
	}
	if len(kinds) > 0 {
		l.Kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			l.Kinds[k] = true
		}
	}
	return l
}

func (l *SlackLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	if len(l.Kinds) > 0 && !l.Kinds[kind] && !kind.Failure() {
		return nil
	}
	msg := fmt.Sprintf("⚠️ Warden `%s` in guild `%s` ⚠️\n%s", kind, guildID, Format(kind, details))
	return l.send(ctx, msg)
}

// The slack incoming webhook must be already configured in the slack workplace.
func (l *SlackLog) send(ctx context.Context, msg string) error {
	body, err := json.Marshal(slackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := l.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
