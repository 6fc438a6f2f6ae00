package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/nats-io/nats.go"

	"github.com/pyoor/grizzly/internal/environment"
	"github.com/pyoor/grizzly/internal/reporter"
	"github.com/pyoor/grizzly/internal/reporter/natsrep"
	"github.com/pyoor/grizzly/internal/reporter/sqsrep"
	"github.com/pyoor/grizzly/internal/reporter/termrep"
)

// newReporter builds the configured result sink.
func newReporter(ctx context.Context, cfg *environment.Config) (reporter.Reporter, error) {
	switch cfg.Report.Sink {
	case "term":
		return termrep.New(), nil
	case "nats":
		nc, err := nats.Connect(cfg.Report.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return natsrep.New(nc, cfg.Report.NatsSubject), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Report.AwsRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		var s3Client *s3.Client
		if cfg.Report.S3Bucket != "" {
			s3Client = s3.NewFromConfig(awsCfg)
		}
		return sqsrep.New(sqs.NewFromConfig(awsCfg), s3Client, sqsrep.Config{
			QueueURL:  cfg.Report.SqsQueueURL,
			Bucket:    cfg.Report.S3Bucket,
			KeyPrefix: cfg.Report.S3KeyPrefix,
		}), nil
	}
	return nil, fmt.Errorf("unknown report sink %q", cfg.Report.Sink)
}
