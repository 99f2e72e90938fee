package notify

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// WorktoolConfig configures the Worktool relay notifier. Receivers are
// group chat titles.
type WorktoolConfig struct {
	URL     string `yaml:"url"`
	RobotID string `yaml:"robot_id"`
}

// Worktool dispatches file messages through a Worktool robot relay. One
// action per receiver, sent in a single batch request.
type Worktool struct {
	url     string
	robotID string
	client  *http.Client
	log     *zap.Logger
}

// NewWorktool creates a Worktool notifier.
func NewWorktool(cfg WorktoolConfig, log *zap.Logger) *Worktool {
	return &Worktool{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		robotID: cfg.RobotID,
		client:  newHTTPClient(),
		log:     log.With(zap.String("notifier", "worktool")),
	}
}

// Send implements Notifier.
func (w *Worktool) Send(ctx context.Context, artifact *model.Artifact, receivers []string) error {
	fileURL := artifact.FileURL
	if fileURL == "" {
		fileURL = artifact.FilePath
	}

	fileType := "*"
	if artifact.Format == model.FormatPNG {
		fileType = "image"
	}

	// The relay rejects non-ascii object names; hex-encode the title.
	objectName := fmt.Sprintf("%s.%s", hex.EncodeToString([]byte(artifact.Title)), artifact.Format.Ext())

	actions := make([]map[string]any, 0, len(receivers))
	for _, receiver := range receivers {
		actions = append(actions, map[string]any{
			"type":       218,
			"titleList":  receiver,
			"objectName": objectName,
			"fileUrl":    fileURL,
			"fileType":   fileType,
			"extraText":  fmt.Sprintf("#%s\n%s", artifact.Title, artifact.Description),
		})
	}

	payload := map[string]any{
		"socketType": 2,
		"list":       actions,
	}
	if err := postJSON(ctx, w.client, w.url, url.Values{"robotId": {w.robotID}}, payload); err != nil {
		w.log.Warn("worktool delivery failed", zap.Error(err))
		return err
	}
	return nil
}

// Name implements Notifier.
func (w *Worktool) Name() string { return "worktool" }
