package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/pipeline"

	"github.com/rabbitmq/amqp091-go"
)

// ErrInvalidMessage marks a message that can never succeed.
var ErrInvalidMessage = errors.New("invalid step message")

// StepMsg asks the worker to run one step.
type StepMsg struct {
	Step   string `json:"step"`
	Limit  int    `json:"limit,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
	Chain  bool   `json:"chain,omitempty"`
}

// StepRunner runs a named step. *pipeline.Runner implements it.
type StepRunner interface {
	Run(ctx context.Context, step string, opts common.BatchOptions) (*common.RunResult, error)
}

var _ StepRunner = (*pipeline.Runner)(nil)

func PublishStep(ch Channel, msg StepMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, StepQueue, data)
}

func parseStepMsg(body []byte) (StepMsg, error) {
	var msg StepMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Step == "" {
		return msg, fmt.Errorf("%w: missing step", ErrInvalidMessage)
	}
	return msg, nil
}

// ProcessStep runs the step in body, announces its result on
// "step.<name>" and, for chained messages, enqueues the following step.
func ProcessStep(ctx context.Context, runner StepRunner, ch Channel, body []byte) error {
	msg, err := parseStepMsg(body)
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, msg.Step, common.BatchOptions{Limit: msg.Limit, DryRun: msg.DryRun})
	if errors.Is(err, pipeline.ErrUnknownStep) {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if res != nil {
		if data, mErr := json.Marshal(res); mErr == nil {
			if pErr := PublishTopic(ch, "step."+msg.Step, data); pErr != nil {
				logger.Warn("[Queue] Failed to publish step result", "step", msg.Step, "err", pErr)
			}
		}
	}
	if err != nil {
		return err
	}

	if !msg.Chain {
		return nil
	}
	next, ok := pipeline.Next(msg.Step)
	if !ok {
		logger.Info("[Queue] Chain finished", "step", msg.Step)
		return nil
	}
	if err := PublishStep(ch, StepMsg{Step: next, DryRun: msg.DryRun, Chain: true}); err != nil {
		return fmt.Errorf("failed to enqueue step %s: %w", next, err)
	}
	logger.Info("[Queue] Enqueued next step", "step", next)
	return nil
}

// HandleDelivery processes one delivery and settles it: ack on success,
// retry queue on failure, dead-letter queue for invalid messages or after
// too many retries.
func HandleDelivery(ctx context.Context, runner StepRunner, ch Channel, msg amqp091.Delivery, queueName string) {
	err := ProcessStep(ctx, runner, ch, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("[Queue] Failed to ack message", "err", ackErr)
		}
		return
	}

	logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
	if errors.Is(err, ErrInvalidMessage) {
		deadLetter(ch, msg, queueName)
		return
	}
	handleProcessingError(ch, msg, queueName)
}

// Retries reads the x-retries header.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func handleProcessingError(ch Channel, msg amqp091.Delivery, queueName string) {
	retries := Retries(msg.Headers)
	if retries >= maxRetries {
		deadLetter(ch, msg, queueName)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	if err := PublishFIFOWithHeaders(ch, retryName, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func deadLetter(ch Channel, msg amqp091.Delivery, queueName string) {
	dlqName := queueName + "_dlq"
	logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
	if err := PublishFIFOWithHeaders(ch, dlqName, msg.Body, msg.Headers); err != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
