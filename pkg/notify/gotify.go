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

// GotifyConfig configures the Gotify notifier. Receivers are per-app
// tokens.
type GotifyConfig struct {
	URL string `yaml:"url"`
}

// Gotify pushes markdown messages to a Gotify server.
type Gotify struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewGotify creates a Gotify notifier.
func NewGotify(cfg GotifyConfig, log *zap.Logger) *Gotify {
	return &Gotify{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		client: newHTTPClient(),
		log:    log.With(zap.String("notifier", "gotify")),
	}
}

// Send implements Notifier.
func (g *Gotify) Send(ctx context.Context, artifact *model.Artifact, receivers []string) error {
	text := markdownBody(artifact)

	var errs []error
	for _, receiver := range receivers {
		payload := map[string]any{
			"title":    artifact.Title,
			"message":  text,
			"priority": 5,
			"extras": map[string]any{
				"client::display": map[string]string{"contentType": "text/markdown"},
			},
		}
		if err := postJSON(ctx, g.client, g.url, url.Values{"token": {receiver}}, payload); err != nil {
			g.log.Warn("gotify delivery failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Notifier.
func (g *Gotify) Name() string { return "gotify" }
