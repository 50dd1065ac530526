package report

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/leasewatch/costplane/internal/awsx"
)

const maxPresignedURLLength = 2048

type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store uploads rendered reports and hands out time-limited download
// links.
type Store struct {
	client   S3API
	presign  PresignAPI
	bucket   string
	linkTTL  time.Duration
	retry    awsx.RetryPolicy
}

func NewStore(client S3API, presign PresignAPI, bucket string, linkTTL time.Duration, retry awsx.RetryPolicy) *Store {
	return &Store{client: client, presign: presign, bucket: bucket, linkTTL: linkTTL, retry: retry}
}

// Put uploads the csv under the report key for the lease and returns
// that key.
func (s *Store) Put(ctx context.Context, accountID, leaseUUID string, body []byte) (string, error) {
	key := ObjectKey(accountID, leaseUUID)
	err := awsx.Do(ctx, "report_upload", s.retry, func(callCtx context.Context) error {
		_, callErr := s.client.PutObject(callCtx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("text/csv"),
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}
	log.Printf("event=report_uploaded bucket=%s key=%s bytes=%d", s.bucket, key, len(body))
	return key, nil
}

// PresignDownload returns a GET url for the report key plus its expiry.
func (s *Store) PresignDownload(ctx context.Context, key string) (string, time.Time, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.linkTTL))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign report %s: %w", key, err)
	}
	if len(req.URL) > maxPresignedURLLength {
		return "", time.Time{}, fmt.Errorf("presigned url for %s is %d bytes, limit %d", key, len(req.URL), maxPresignedURLLength)
	}
	return req.URL, time.Now().UTC().Add(s.linkTTL), nil
}
