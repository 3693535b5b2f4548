package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrEmptySource marks a download that produced no usable dataset. The
// executor records it as a failed task, never retried.
var ErrEmptySource = errors.New("source produced no data")

const maxDownloadBytes = 256 * 1024 * 1024

// s3Getter is the S3 surface the downloader needs.
type s3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Downloader fetches tabular datasets from declared sources. Credentials
// arrive as an opaque JSON blob per descriptor, never from ambient state.
type Downloader struct {
	httpClient *http.Client
	s3Client   s3Getter
}

func NewDownloader(s3Client s3Getter) *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		s3Client:   s3Client,
	}
}

// sourceCredentials is the accepted credential blob shape.
type sourceCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func parseCredentials(blob string) sourceCredentials {
	var creds sourceCredentials
	if blob == "" {
		return creds
	}
	// A malformed blob degrades to anonymous access rather than failing
	// the whole upload.
	_ = json.Unmarshal([]byte(blob), &creds)
	return creds
}

// Download fetches the source and parses it as CSV. Supported source types
// are "url" (HTTP, optional basic auth or bearer token) and "s3"
// (s3://bucket/key). An empty dataset is ErrEmptySource.
func (d *Downloader) Download(ctx context.Context, sourceType, sourcePath, credentials string) (Dataset, error) {
	creds := parseCredentials(credentials)

	var body io.ReadCloser
	var err error
	switch strings.ToLower(sourceType) {
	case "url":
		body, err = d.fetchURL(ctx, sourcePath, creds)
	case "s3":
		body, err = d.fetchS3(ctx, sourcePath)
	default:
		return Dataset{}, fmt.Errorf("unsupported source type %q", sourceType)
	}
	if err != nil {
		return Dataset{}, err
	}
	defer body.Close()

	ds, err := ParseCSV(io.LimitReader(body, maxDownloadBytes))
	if err != nil {
		return Dataset{}, err
	}
	if len(ds.Columns) == 0 {
		return Dataset{}, ErrEmptySource
	}
	return ds, nil
}

func (d *Downloader) fetchURL(ctx context.Context, url string, creds sourceCredentials) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	} else if creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("download source: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *Downloader) fetchS3(ctx context.Context, path string) (io.ReadCloser, error) {
	if d.s3Client == nil {
		return nil, errors.New("s3 source requested but no s3 client configured")
	}
	bucket, key, err := splitS3Path(path)
	if err != nil {
		return nil, err
	}
	out, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

func splitS3Path(path string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	if trimmed == path {
		return "", "", fmt.Errorf("s3 path %q must start with s3://", path)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("s3 path %q must be s3://bucket/key", path)
	}
	return parts[0], parts[1], nil
}
