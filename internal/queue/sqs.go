package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

// JobRequest is the wire form of provider.Request.
type JobRequest struct {
	TaskType     provider.TaskType `json:"task_type,omitempty"`
	Prompt       string            `json:"prompt"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	MaxTokens    *int              `json:"max_tokens,omitempty"`
	Context      map[string]any    `json:"context,omitempty"`
}

func (r JobRequest) ToProvider() provider.Request {
	task := r.TaskType
	if task == "" {
		task = provider.TaskGeneral
	}
	return provider.Request{
		TaskType:     task,
		Prompt:       r.Prompt,
		SystemPrompt: r.SystemPrompt,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
		Context:      r.Context,
	}
}

type AsyncRequest struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Request     JobRequest `json:"request"`
	ProviderID  string     `json:"provider_id,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	ReceiptHandle string `json:"-"`
}

type AsyncResponse struct {
	RequestID    string          `json:"request_id"`
	AccountID    string          `json:"account_id"`
	ProviderID   string          `json:"provider_id,omitempty"`
	ProviderName string          `json:"provider_name,omitempty"`
	Attempted    []string        `json:"attempted_providers"`
	Content      string          `json:"content,omitempty"`
	Parsed       json.RawMessage `json:"parsed,omitempty"`
	Usage        *provider.Usage `json:"usage,omitempty"`
	CostUSD      string          `json:"estimated_cost_usd,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Queue interface {
	SendRequest(ctx context.Context, req AsyncRequest) error
	ReceiveRequests(ctx context.Context, maxMessages int) ([]AsyncRequest, error)
	DeleteRequest(ctx context.Context, receiptHandle string) error
	SendResponse(ctx context.Context, resp AsyncResponse) error
}

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSQueue struct {
	client           SQSAPI
	requestQueueURL  string
	responseQueueURL string
	waitTime         int32
}

func NewSQSQueue(ctx context.Context, region, requestQueueURL, responseQueueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), requestQueueURL, responseQueueURL), nil
}

func NewSQSQueueWithClient(client SQSAPI, requestQueueURL, responseQueueURL string) *SQSQueue {
	return &SQSQueue{
		client:           client,
		requestQueueURL:  requestQueueURL,
		responseQueueURL: responseQueueURL,
		waitTime:         20,
	}
}

func (q *SQSQueue) SendRequest(ctx context.Context, req AsyncRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.requestQueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes(req.AccountID, req.ID),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (q *SQSQueue) ReceiveRequests(ctx context.Context, maxMessages int) ([]AsyncRequest, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.requestQueueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       q.waitTime,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	requests := make([]AsyncRequest, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var req AsyncRequest
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &req); err != nil {
			slog.Warn("failed to unmarshal message", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		req.ReceiptHandle = aws.ToString(msg.ReceiptHandle)
		requests = append(requests, req)
	}

	return requests, nil
}

func (q *SQSQueue) DeleteRequest(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.requestQueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (q *SQSQueue) SendResponse(ctx context.Context, resp AsyncResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.responseQueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes(resp.AccountID, resp.RequestID),
	})
	if err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	return nil
}

func attributes(accountID, requestID string) map[string]types.MessageAttributeValue {
	return map[string]types.MessageAttributeValue{
		"AccountID": {
			DataType:    aws.String("String"),
			StringValue: aws.String(accountID),
		},
		"RequestID": {
			DataType:    aws.String("String"),
			StringValue: aws.String(requestID),
		},
	}
}

type InMemoryQueue struct {
	mu        sync.Mutex
	requests  []AsyncRequest
	responses []AsyncResponse
	deleted   []string
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		requests:  make([]AsyncRequest, 0),
		responses: make([]AsyncResponse, 0),
	}
}

func (q *InMemoryQueue) SendRequest(ctx context.Context, req AsyncRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.ReceiptHandle == "" {
		req.ReceiptHandle = req.ID
	}
	q.requests = append(q.requests, req)
	return nil
}

func (q *InMemoryQueue) ReceiveRequests(ctx context.Context, maxMessages int) ([]AsyncRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := min(maxMessages, len(q.requests))

	result := make([]AsyncRequest, count)
	copy(result, q.requests[:count])
	q.requests = q.requests[count:]

	return result, nil
}

func (q *InMemoryQueue) DeleteRequest(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

func (q *InMemoryQueue) SendResponse(ctx context.Context, resp AsyncResponse) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, resp)
	return nil
}

func (q *InMemoryQueue) GetResponses() []AsyncResponse {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]AsyncResponse, len(q.responses))
	copy(result, q.responses)
	return result
}

func (q *InMemoryQueue) GetDeleted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]string, len(q.deleted))
	copy(result, q.deleted)
	return result
}
