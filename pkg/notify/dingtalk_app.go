package notify

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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

const (
	dingtalkAPIURL  = "https://api.dingtalk.com"
	dingtalkOAPIURL = "https://oapi.dingtalk.com"
)

// DingTalkAppConfig configures the DingTalk enterprise-app notifier.
// Receivers are open conversation ids.
type DingTalkAppConfig struct {
	AppKey      string `yaml:"app_key"`
	AppSecret   string `yaml:"app_secret"`
	RobotCode   string `yaml:"robot_code"`
	CoolAppCode string `yaml:"coolapp_code"`
}

// DingTalkApp sends the artifact as a robot file message through the
// DingTalk enterprise API: fetch an access token, upload the file as
// media, then post one group message per receiver.
type DingTalkApp struct {
	cfg    DingTalkAppConfig
	client *http.Client
	log    *zap.Logger

	apiURL  string
	oapiURL string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewDingTalkApp creates a DingTalk enterprise-app notifier.
func NewDingTalkApp(cfg DingTalkAppConfig, log *zap.Logger) *DingTalkApp {
	return &DingTalkApp{
		cfg:     cfg,
		client:  newHTTPClient(),
		log:     log.With(zap.String("notifier", "dingtalk_app")),
		apiURL:  dingtalkAPIURL,
		oapiURL: dingtalkOAPIURL,
	}
}

// token returns a cached access token, fetching a fresh one when the
// cached token has expired.
func (d *DingTalkApp) token(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.accessToken != "" && time.Now().Before(d.tokenExpiry) {
		return d.accessToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"appKey":    d.cfg.AppKey,
		"appSecret": d.cfg.AppSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/v1.0/oauth2/accessToken", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	var access struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int    `json:"expireIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if access.AccessToken == "" {
		return "", fmt.Errorf("access token request returned no token (status %d)", resp.StatusCode)
	}

	d.accessToken = access.AccessToken
	d.tokenExpiry = time.Now().Add(time.Duration(access.ExpireIn) * time.Second)
	return d.accessToken, nil
}

// mediaType maps a file extension onto the upload API's media classes.
func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		return "image"
	case ".amr", ".mp3", ".wav":
		return "voice"
	case ".mp4":
		return "video"
	default:
		return "file"
	}
}

// upload posts the file to the media API and returns its media id.
func (d *DingTalkApp) upload(ctx context.Context, token, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("type", mediaType(path)); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	uploadURL := d.oapiURL + "/media/upload?" + url.Values{"access_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()

	var res struct {
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode media upload response: %w", err)
	}
	if res.ErrMsg != "ok" || res.MediaID == "" {
		return "", fmt.Errorf("media upload rejected: %s", res.ErrMsg)
	}
	return res.MediaID, nil
}

// Send implements Notifier.
func (d *DingTalkApp) Send(ctx context.Context, artifact *model.Artifact, receivers []string) error {
	token, err := d.token(ctx)
	if err != nil {
		return err
	}

	mediaID, err := d.upload(ctx, token, artifact.FilePath)
	if err != nil {
		return err
	}

	param, err := json.Marshal(map[string]string{
		"mediaId":  mediaID,
		"fileName": filepath.Base(artifact.FilePath),
		"fileType": artifact.Format.Ext(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, receiver := range receivers {
		payload := map[string]any{
			"msgParam":           string(param),
			"msgKey":             "sampleFile",
			"openConversationId": receiver,
		}
		if d.cfg.RobotCode != "" {
			payload["robotCode"] = d.cfg.RobotCode
		}
		if d.cfg.CoolAppCode != "" {
			payload["coolAppCode"] = d.cfg.CoolAppCode
		}
		if err := d.sendMessage(ctx, token, payload); err != nil {
			d.log.Warn("dingtalk app delivery failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendMessage posts one robot group message. The v1.0 API authenticates
// with a token header rather than a query parameter.
func (d *DingTalkApp) sendMessage(ctx context.Context, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/v1.0/robot/groupMessages/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-acs-dingtalk-access-token", token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST /v1.0/robot/groupMessages/send returned %d", resp.StatusCode)
	}
	return nil
}

// Name implements Notifier.
func (d *DingTalkApp) Name() string { return "dingtalk_app" }
