// Package blob uploads local media files to S3-compatible storage and returns
// their public URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Uploader stores a local file and returns the URL it is reachable at.
// The caller owns localPath and removes it afterwards.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ErrEmptyPath is returned when there is nothing to upload.
var ErrEmptyPath = errors.New("empty local path")

type Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
	// PublicURL is the externally visible base; BaseEndpoint is used when empty.
	PublicURL string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

type S3Uploader struct {
	client    putObjectAPI
	bucket    string
	publicURL string
	now       func() time.Time
}

func NewS3Uploader(ctx context.Context, c Config) (*S3Uploader, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	public := c.PublicURL
	if public == "" {
		public = c.BaseEndpoint
	}
	return newS3Uploader(client, c.Bucket, public), nil
}

func newS3Uploader(client putObjectAPI, bucket, publicURL string) *S3Uploader {
	return &S3Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// storageKey builds users/<y>/<m>/<d>/<uuid><ext>.
func (u *S3Uploader) storageKey(ext string) string {
	d := u.now().UTC()
	return fmt.Sprintf("users/%d/%d/%d/%s%s", d.Year(), d.Month(), d.Day(), uuid.New(), strings.ToLower(ext))
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", ErrEmptyPath
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	contentType, err := detectContentType(f, filepath.Ext(localPath))
	if err != nil {
		return "", err
	}

	key := u.storageKey(filepath.Ext(localPath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return u.publicURL + "/" + u.bucket + "/" + key, nil
}

// detectContentType prefers the extension and falls back to sniffing; f is
// rewound before returning.
func detectContentType(f io.ReadSeeker, ext string) (string, error) {
	if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
		return t, nil
	}
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
