package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const jobTTL = 24 * time.Hour

// JobStatus represents the lifecycle of a queued run request.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("workflow: job not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord captures the persisted state of a queued run request.
type JobRecord struct {
	JobID          string     `dynamodbav:"jobId" json:"jobId"`
	Status         JobStatus  `dynamodbav:"status" json:"status"`
	ConversationID string     `dynamodbav:"conversationId" json:"conversationId"`
	Request        RunRequest `dynamodbav:"request" json:"request"`
	RunID          string     `dynamodbav:"runId,omitempty" json:"runId,omitempty"`
	RunStatus      string     `dynamodbav:"runStatus,omitempty" json:"runStatus,omitempty"`
	ErrorKind      string     `dynamodbav:"errorKind,omitempty" json:"errorKind,omitempty"`
	CreatedAt      string     `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt      string     `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt      int64      `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists job records to DynamoDB so callers can poll the outcome
// of an asynchronously dispatched run.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("workflow: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("workflow: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record. Re-inserting the same job ID
// is rejected by the conditional write, which keeps duplicate deliveries
// harmless.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("workflow: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("workflow: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("workflow: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted records the receipt of a dispatched run.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, receipt RunReceipt) error {
	if jobID == "" {
		return errors.New("workflow: jobID required")
	}
	return s.updateJob(ctx, jobID, map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
		":runId":     &types.AttributeValueMemberS{Value: receipt.RunID},
		":runStatus": &types.AttributeValueMemberS{Value: receipt.Status},
		":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}, "SET #status = :status, runId = :runId, runStatus = :runStatus, updatedAt = :updatedAt")
}

// MarkFailed records a dispatch failure with its error kind.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errorKind string) error {
	if jobID == "" {
		return errors.New("workflow: jobID required")
	}
	return s.updateJob(ctx, jobID, map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
		":errorKind": &types.AttributeValueMemberS{Value: errorKind},
		":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}, "SET #status = :status, errorKind = :errorKind, updatedAt = :updatedAt")
}

// GetJob fetches a job record by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to load job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("workflow: failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue, expr string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("workflow: failed to update job %s: %w", jobID, err)
	}
	return nil
}
