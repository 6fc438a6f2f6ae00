// Package sqsrep delivers run reports to an SQS queue. For reportable
// results the reproducer bundle is shipped to S3 first and linked from
// the message, so the queue payload stays small.
package sqsrep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/reporter"
	"github.com/pyoor/grizzly/internal/testcase"
)

type Config struct {
	QueueURL string
	// Bucket enables artifact upload when set.
	Bucket string
	// KeyPrefix is prepended to uploaded object keys.
	KeyPrefix string
}

type sqsReporter struct {
	sqsClient *sqs.Client
	s3Client  *s3.Client
	cfg       Config
}

func New(sqsClient *sqs.Client, s3Client *s3.Client, cfg Config) reporter.Reporter {
	return &sqsReporter{sqsClient: sqsClient, s3Client: s3Client, cfg: cfg}
}

func (r *sqsReporter) Submit(ctx context.Context, tc *testcase.TestCase, res api.RunResult) error {
	rep := reporter.BuildReport(tc, res)

	if r.shouldUpload(res) {
		url, err := r.uploadBundle(ctx, tc, res.RunID)
		if err != nil {
			return err
		}
		rep.ArchiveURL = url
	}

	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("sqsrep: marshal report: %w", err)
	}
	_, err = r.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.cfg.QueueURL),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("sqsrep: send message: %w", err)
	}
	return nil
}

func (r *sqsReporter) shouldUpload(res api.RunResult) bool {
	if r.s3Client == nil || r.cfg.Bucket == "" {
		return false
	}
	return res.Status == api.StatusFailure || res.Status == api.StatusIgnored
}

// uploadBundle ships the reproducer as a zstd-compressed tar archive.
func (r *sqsReporter) uploadBundle(ctx context.Context, tc *testcase.TestCase, runID string) (string, error) {
	var buf bytes.Buffer
	if err := tc.WriteArchive(&buf); err != nil {
		return "", fmt.Errorf("sqsrep: archive bundle: %w", err)
	}

	key := fmt.Sprintf("%s%s/testcase.tar.zst", r.cfg.KeyPrefix, runID)
	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return "", fmt.Errorf("sqsrep: upload bundle: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", r.cfg.Bucket, key), nil
}
