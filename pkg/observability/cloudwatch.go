package observability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the CloudWatch client used for business metrics.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes business metrics to CloudWatch.
type Metrics struct {
	namespace string
	client    CloudWatchAPI
	now       func() time.Time
}

// NewMetrics creates a new metrics instance. A nil client disables publishing.
func NewMetrics(namespace string, client CloudWatchAPI) *Metrics {
	return &Metrics{
		namespace: namespace,
		client:    client,
		now:       time.Now,
	}
}

// RecordOperation records the count and latency of a named operation.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) error {
	if m == nil || m.client == nil {
		return nil
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	dims := []types.Dimension{
		{Name: aws.String("Operation"), Value: aws.String(operation)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}
	ts := aws.Time(m.now())

	return m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("OperationLatency"),
			Dimensions: dims,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  ts,
		},
		{
			MetricName: aws.String("OperationCount"),
			Dimensions: dims,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
			Timestamp:  ts,
		},
	})
}

// RecordBusinessMetric records a custom count metric such as AssignmentsCreated.
func (m *Metrics) RecordBusinessMetric(ctx context.Context, name string, value float64, dimensions map[string]string) error {
	if m == nil || m.client == nil {
		return nil
	}

	names := make([]string, 0, len(dimensions))
	for k := range dimensions {
		names = append(names, k)
	}
	sort.Strings(names)

	cwDims := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		cwDims = append(cwDims, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dimensions[k]),
		})
	}

	return m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String(name),
			Dimensions: cwDims,
			Value:      aws.Float64(value),
			Unit:       types.StandardUnitCount,
			Timestamp:  aws.Time(m.now()),
		},
	})
}

func (m *Metrics) put(ctx context.Context, data []types.MetricDatum) error {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	return nil
}
