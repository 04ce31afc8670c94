package workflow

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items   map[string]map[string]interface{}
	updates []string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]interface{})}
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var job JobRecord
	if err := attributevalue.UnmarshalMap(params.Item, &job); err != nil {
		return nil, err
	}
	f.items[job.JobID] = map[string]interface{}{"job": job}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, *params.UpdateExpression)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	var key struct {
		JobID string `dynamodbav:"jobId"`
	}
	if err := attributevalue.UnmarshalMap(params.Key, &key); err != nil {
		return nil, err
	}
	entry, ok := f.items[key.JobID]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, err := attributevalue.MarshalMap(entry["job"].(JobRecord))
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func TestJobStoreRoundTrip(t *testing.T) {
	client := newFakeDynamo()
	store := NewJobStore(client, "workflow_jobs", nil)
	ctx := context.Background()

	job := &JobRecord{
		JobID:          "job-1",
		ConversationID: "conv-1",
		Request:        RunRequest{ConversationID: "conv-1", RepresentativeID: "rep-1"},
	}
	require.NoError(t, store.PutPending(ctx, job))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.NotEmpty(t, job.CreatedAt)
	assert.NotZero(t, job.ExpiresAt)

	loaded, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", loaded.ConversationID)
	assert.Equal(t, "rep-1", loaded.Request.RepresentativeID)

	require.NoError(t, store.MarkCompleted(ctx, "job-1", RunReceipt{RunID: "run-1", Status: StatusStarted}))
	require.NoError(t, store.MarkFailed(ctx, "job-2", KindRunInProgress))
	assert.Len(t, client.updates, 2)
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "workflow_jobs", nil)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
