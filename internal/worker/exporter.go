package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sql-workbench/internal/dbconn"
)

// ResultExporter persists a query result and returns its location. The
// location lands in the task's result_location column.
type ResultExporter interface {
	Export(ctx context.Context, taskID string, res dbconn.Result) (string, error)
}

// LocalExporter writes result CSVs under a base directory.
type LocalExporter struct {
	baseDir string
}

func NewLocalExporter(baseDir string) *LocalExporter {
	if baseDir == "" {
		baseDir = "results"
	}
	return &LocalExporter{baseDir: baseDir}
}

func (l *LocalExporter) Export(_ context.Context, taskID string, res dbconn.Result) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(taskID)+".csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}

	var buf bytes.Buffer
	if err := resultDataset(res).WriteCSV(&buf); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

// s3Putter is the S3 surface the exporter needs.
type s3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads result CSVs to a bucket.
type S3Exporter struct {
	client s3Putter
	bucket string
	prefix string
}

func NewS3Exporter(client s3Putter, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Exporter) Export(ctx context.Context, taskID string, res dbconn.Result) (string, error) {
	var buf bytes.Buffer
	if err := resultDataset(res).WriteCSV(&buf); err != nil {
		return "", err
	}

	key := s.prefix + sanitizeKey(taskID) + ".csv"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func resultDataset(res dbconn.Result) Dataset {
	return Dataset{Columns: res.Columns, Rows: res.Rows}
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
