// Package s3upload ships finished session artifacts (log and report) to S3.
package s3upload

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader puts local files into a bucket.
type Uploader struct {
	client *s3.Client
	logger *slog.Logger
}

// NewUploader creates an S3 uploader from an AWS config. A non-empty
// endpointOverride targets an S3-compatible store and switches to
// path-style addressing. Pass a non-nil httpClient for a custom transport.
//
//	up := s3upload.NewUploader(cfg, "eu-north-1", "", nil, logger)
//	err := up.Upload(ctx, "job-logs", "sessions/abc/session.log", "/var/log/jobsession/abc.log")
func NewUploader(awsCfg aws.Config, region, endpointOverride string, httpClient *http.Client, logger *slog.Logger) *Uploader {
	opts := func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
		if endpointOverride != "" {
			o.BaseEndpoint = aws.String(endpointOverride)
			o.UsePathStyle = true
		}
		if httpClient != nil {
			o.HTTPClient = httpClient
		}
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, opts),
		logger: logger,
	}
}

// Upload streams the file at localPath to bucket/key.
func (u *Uploader) Upload(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3upload: open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3upload: stat %s: %w", localPath, err)
	}

	u.logger.Info("uploading session artifact", "bucket", bucket, "key", key, "bytes", info.Size())

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("s3upload: PutObject %s/%s: %w", bucket, key, err)
	}

	u.logger.Info("upload complete", "bucket", bucket, "key", key)
	return nil
}

// Key joins a prefix, session id and file name into an object key.
//
//	s3upload.Key("jobs/", "abc", "session.log") // "jobs/abc/session.log"
func Key(prefix, sessionID, name string) string {
	return path.Join(strings.Trim(prefix, "/"), sessionID, name)
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
