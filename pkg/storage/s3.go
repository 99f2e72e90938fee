// Package storage archives rendered artifacts to S3-compatible object
// storage and hands back a resolvable URL. Upload failures are soft: the
// render job still produces an artifact, just without a remote URL.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	validationKey = ".s3_config_validate"
	presignExpiry = time.Hour
	probeTimeout  = 10 * time.Second
)

// Config holds object-storage connection settings. PublicURL is optional;
// without it (or when it fails the construction-time probe) uploads
// return time-limited presigned URLs instead.
type Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	PublicURL       string `yaml:"public_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Uploader uploads local files to a bucket.
type Uploader struct {
	cfg       Config
	client    *minio.Client
	publicURL string // cleared when the construction-time probe fails
	log       *zap.Logger
}

// NewUploader creates an uploader and validates the configuration with an
// upload/read round trip, so credential and bucket problems surface at
// startup rather than mid-render.
func NewUploader(ctx context.Context, cfg Config, log *zap.Logger) (*Uploader, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 endpoint %q: %w", cfg.Endpoint, err)
	}

	client, err := minio.New(endpoint.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: endpoint.Scheme == "https",
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	u := &Uploader{
		cfg:       cfg,
		client:    client,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		log:       log.With(zap.String("bucket", cfg.Bucket)),
	}

	if err := u.validate(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// validate uploads a marker object and, when a public URL is configured,
// probes it. A failed probe downgrades to presigned URLs instead of
// failing construction; a failed upload is fatal.
func (u *Uploader) validate(ctx context.Context) error {
	content := fmt.Sprintf("CREATED_BY: grafana-reporter\nCREATED_TS: %d", time.Now().Unix())

	_, err := u.client.PutObject(ctx, u.cfg.Bucket, validationKey,
		bytes.NewReader([]byte(content)), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		return fmt.Errorf("s3 validation upload failed: %w", err)
	}

	if u.publicURL == "" {
		u.log.Info("no s3 public url configured, uploads will return presigned urls",
			zap.Duration("expiry", presignExpiry))
		return nil
	}

	// The probe is bounded by the construction context plus its own
	// timeout; a hanging public endpoint must not stall startup.
	probeURL := u.objectURL(validationKey)
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("build s3 probe request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
	}
	if err != nil || resp.StatusCode != http.StatusOK {
		u.log.Warn("s3 public url unreachable, falling back to presigned urls",
			zap.String("url", probeURL))
		u.publicURL = ""
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if strings.TrimSpace(string(body)) != content {
		u.log.Warn("s3 public url served mismatched content, falling back to presigned urls")
		u.publicURL = ""
	}
	return nil
}

// Upload stores the file under its relative path and returns a resolvable
// URL: the public URL when configured, a presigned URL otherwise.
func (u *Uploader) Upload(ctx context.Context, filePath string) (string, error) {
	key := filepath.ToSlash(filePath)

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := u.client.FPutObject(ctx, u.cfg.Bucket, key, filePath,
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("upload %s: %w", filePath, err)
	}

	if u.publicURL != "" {
		return u.objectURL(key), nil
	}

	signed, err := u.client.PresignedGetObject(ctx, u.cfg.Bucket, key, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed.String(), nil
}

func (u *Uploader) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", u.publicURL, u.cfg.Bucket, key)
}
