package notify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// DingTalkConfig configures the DingTalk group-robot webhook notifier.
// Receivers are webhook access tokens.
type DingTalkConfig struct {
	URL string `yaml:"url"`
}

// DingTalk posts markdown messages to DingTalk group-robot webhooks.
type DingTalk struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewDingTalk creates a DingTalk webhook notifier.
func NewDingTalk(cfg DingTalkConfig, log *zap.Logger) *DingTalk {
	return &DingTalk{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		client: newHTTPClient(),
		log:    log.With(zap.String("notifier", "dingtalk")),
	}
}

// Send implements Notifier.
func (d *DingTalk) Send(ctx context.Context, artifact *model.Artifact, receivers []string) error {
	text := markdownBody(artifact)

	var errs []error
	for _, receiver := range receivers {
		payload := map[string]any{
			"msgtype": "markdown",
			"markdown": map[string]string{
				"title": artifact.Title,
				"text":  text,
			},
		}
		if err := postJSON(ctx, d.client, d.url, url.Values{"access_token": {receiver}}, payload); err != nil {
			d.log.Warn("dingtalk delivery failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Notifier.
func (d *DingTalk) Name() string { return "dingtalk" }
