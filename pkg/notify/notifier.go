// Package notify delivers rendered artifacts to chat/webhook back ends.
// Delivery is fire-and-forget from the render job's perspective: failures
// are logged by the caller, never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// Notifier sends a rendered artifact to a list of recipient identifiers.
// What a recipient identifier means is notifier-specific (an app token, a
// webhook access token, a group name, an email address).
type Notifier interface {
	Send(ctx context.Context, artifact *model.Artifact, receivers []string) error
	Name() string
}

// Config holds the settings for every supported notifier kind. A nil
// section disables that kind. The set of kinds is a closed enumeration;
// strict YAML decoding rejects unknown keys at configuration-load time.
type Config struct {
	Gotify      *GotifyConfig      `yaml:"gotify"`
	DingTalk    *DingTalkConfig    `yaml:"dingtalk"`
	DingTalkApp *DingTalkAppConfig `yaml:"dingtalk_app"`
	Worktool    *WorktoolConfig    `yaml:"worktool"`
	Email       *EmailConfig       `yaml:"email"`
}

// Build constructs the enabled notifiers keyed by kind name.
func Build(cfg Config, log *zap.Logger) map[string]Notifier {
	notifiers := make(map[string]Notifier)
	if cfg.Gotify != nil {
		notifiers["gotify"] = NewGotify(*cfg.Gotify, log)
	}
	if cfg.DingTalk != nil {
		notifiers["dingtalk"] = NewDingTalk(*cfg.DingTalk, log)
	}
	if cfg.DingTalkApp != nil {
		notifiers["dingtalk_app"] = NewDingTalkApp(*cfg.DingTalkApp, log)
	}
	if cfg.Worktool != nil {
		notifiers["worktool"] = NewWorktool(*cfg.Worktool, log)
	}
	if cfg.Email != nil {
		notifiers["email"] = NewEmail(*cfg.Email, log)
	}
	return notifiers
}

// markdownBody renders the shared message body: image embed for raster
// artifacts, plain link otherwise, with the source page quoted below.
func markdownBody(a *model.Artifact) string {
	link := a.FileURL
	if link == "" {
		link = a.FilePath
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", a.Title)
	if a.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", a.Description)
	}
	if a.Format == model.FormatPNG {
		fmt.Fprintf(&sb, "![%s](%s)\n\n", a.Title, link)
	} else {
		fmt.Fprintf(&sb, "[%s](%s)\n\n", link, link)
	}
	fmt.Fprintf(&sb, "> source: [%s](%s)", a.ViewURL, a.ViewURL)
	return sb.String()
}

// postJSON posts a JSON payload with query parameters, shared by the
// webhook-style notifiers.
func postJSON(ctx context.Context, client *http.Client, rawURL string, params url.Values, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s returned %d", u.Path, resp.StatusCode)
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
