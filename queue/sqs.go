package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	attrMessageID = "chunk-relay-id"
	attrExpires   = "chunk-relay-expires"

	maxSQSWait = 20 * time.Second
)

// SQS is a Transport over Amazon SQS. Each topic maps to one queue; the
// visibility timeout plays the role of the lock duration.
type SQS struct {
	client *sqs.Client
	lock   time.Duration

	mu   sync.Mutex
	urls map[string]string
}

func OpenSQS(ctx context.Context, cfg SQSConfig, lock time.Duration) (*SQS, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	q := NewSQS(client, cfg, lock)
	for _, topic := range []string{TopicChunks, TopicResults} {
		if _, err := q.queueURL(ctx, topic); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func NewSQS(client *sqs.Client, cfg SQSConfig, lock time.Duration) *SQS {
	urls := make(map[string]string, len(cfg.QueueURLs))
	for k, v := range cfg.QueueURLs {
		urls[k] = v
	}
	return &SQS{client: client, lock: lock, urls: urls}
}

func (q *SQS) queueURL(ctx context.Context, topic string) (string, error) {
	q.mu.Lock()
	url, ok := q.urls[topic]
	q.mu.Unlock()
	if ok {
		return url, nil
	}
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(topic)})
	if err != nil {
		return "", fmt.Errorf("queue: resolve sqs queue %s: %w", topic, err)
	}
	url = aws.ToString(out.QueueUrl)
	q.mu.Lock()
	q.urls[topic] = url
	q.mu.Unlock()
	return url, nil
}

func (q *SQS) Send(ctx context.Context, topic, messageID string, body []byte, ttl time.Duration) error {
	url, err := q.queueURL(ctx, topic)
	if err != nil {
		return err
	}
	attrs := map[string]types.MessageAttributeValue{
		attrMessageID: {DataType: aws.String("String"), StringValue: aws.String(messageID)},
	}
	if ttl > 0 {
		expires := strconv.FormatInt(time.Now().Add(ttl).UnixMilli(), 10)
		attrs[attrExpires] = types.MessageAttributeValue{DataType: aws.String("Number"), StringValue: aws.String(expires)}
	}
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}
	if strings.HasSuffix(url, ".fifo") && messageID != "" {
		in.MessageDeduplicationId = aws.String(messageID)
		in.MessageGroupId = aws.String(messageID)
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("queue: sqs send %s: %w", topic, err)
	}
	return nil
}

func (q *SQS) Receive(ctx context.Context, topic string, wait time.Duration) (*Message, error) {
	url, err := q.queueURL(ctx, topic)
	if err != nil {
		return nil, err
	}
	if wait > maxSQSWait {
		wait = maxSQSWait
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       int32(wait / time.Second),
		VisibilityTimeout:     int32(q.lock / time.Second),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: sqs receive %s: %w", topic, err)
	}
	for _, m := range out.Messages {
		msg := &Message{
			Topic:  topic,
			ID:     aws.ToString(m.MessageId),
			Body:   []byte(aws.ToString(m.Body)),
			handle: aws.ToString(m.ReceiptHandle),
		}
		if v, ok := m.MessageAttributes[attrMessageID]; ok {
			msg.ID = aws.ToString(v.StringValue)
		}
		if v, ok := m.MessageAttributes[attrExpires]; ok {
			ms, err := strconv.ParseInt(aws.ToString(v.StringValue), 10, 64)
			if err == nil && time.Now().UnixMilli() > ms {
				if err := q.Ack(ctx, msg); err != nil {
					return nil, err
				}
				return nil, nil
			}
		}
		return msg, nil
	}
	return nil, nil
}

func (q *SQS) Ack(ctx context.Context, msg *Message) error {
	url, err := q.queueURL(ctx, msg.Topic)
	if err != nil {
		return err
	}
	_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(msg.handle),
	})
	if err != nil {
		return fmt.Errorf("queue: sqs delete %s: %w", msg.Topic, err)
	}
	return nil
}

func (q *SQS) Close() error { return nil }
