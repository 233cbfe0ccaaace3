package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/pipeline"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	declared  []string
	exchanges []string
	published []published
	failOn    string
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp091.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.failOn != "" && key == f.failOn {
		return errors.New("publish failed")
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) to(key string) []published {
	var out []published
	for _, p := range f.published {
		if p.key == key {
			out = append(out, p)
		}
	}
	return out
}

type fakeAck struct {
	acks, nacks int
}

func (a *fakeAck) Ack(uint64, bool) error        { a.acks++; return nil }
func (a *fakeAck) Nack(uint64, bool, bool) error { a.nacks++; return nil }
func (a *fakeAck) Reject(uint64, bool) error     { return nil }

type fakeRunner struct {
	ran  []string
	opts []common.BatchOptions
	err  error
}

func (f *fakeRunner) Run(_ context.Context, step string, opts common.BatchOptions) (*common.RunResult, error) {
	f.ran = append(f.ran, step)
	f.opts = append(f.opts, opts)
	if !contains(pipeline.Steps, step) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownStep, step)
	}
	res := common.NewRunResult(step, opts)
	if f.err != nil {
		res.Fail("x", f.err)
		return res.Finish(), f.err
	}
	res.Processed = 1
	return res.Finish(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func delivery(t *testing.T, msg StepMsg, headers amqp091.Table) (amqp091.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ack := &fakeAck{}
	return amqp091.Delivery{Acknowledger: ack, Body: body, Headers: headers}, ack
}

func TestSetupQueuesDeclaresRetryAndDLQ(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{StepQueue}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{StepQueue, StepQueue + "_dlq", StepQueue + "_retry"}
	if len(ch.declared) != len(want) {
		t.Fatalf("expected %v, got %v", want, ch.declared)
	}
	for i := range want {
		if ch.declared[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ch.declared)
		}
	}
	if len(ch.exchanges) != 1 || ch.exchanges[0] != eventsExchange {
		t.Fatalf("expected events exchange, got %v", ch.exchanges)
	}
}

func TestProcessStepChainsNextStep(t *testing.T) {
	ch := &fakeChannel{}
	runner := &fakeRunner{}
	body, _ := json.Marshal(StepMsg{Step: pipeline.StepPositions, Limit: 7, Chain: true})

	if err := ProcessStep(context.Background(), runner, ch, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.ran) != 1 || runner.opts[0].Limit != 7 {
		t.Fatalf("expected one run with limit 7, got %v %v", runner.ran, runner.opts)
	}

	next := ch.to(StepQueue)
	if len(next) != 1 {
		t.Fatalf("expected next step enqueued, got %d", len(next))
	}
	var msg StepMsg
	if err := json.Unmarshal(next[0].msg.Body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Step != pipeline.StepControversies || !msg.Chain || msg.Limit != 0 {
		t.Fatalf("expected chained controversies step, got %+v", msg)
	}
	if len(ch.to("step."+pipeline.StepPositions)) != 1 {
		t.Fatalf("expected step result announced")
	}
}

func TestProcessStepWithoutChain(t *testing.T) {
	ch := &fakeChannel{}
	body, _ := json.Marshal(StepMsg{Step: pipeline.StepLabels})
	if err := ProcessStep(context.Background(), &fakeRunner{}, ch, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.to(StepQueue)) != 0 {
		t.Fatalf("expected no follow-up step")
	}
}

func TestProcessStepChainEndsAtExport(t *testing.T) {
	ch := &fakeChannel{}
	body, _ := json.Marshal(StepMsg{Step: pipeline.StepExport, Chain: true})
	if err := ProcessStep(context.Background(), &fakeRunner{}, ch, body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.to(StepQueue)) != 0 {
		t.Fatalf("expected chain to stop after export")
	}
}

func TestHandleDeliveryAcksSuccess(t *testing.T) {
	ch := &fakeChannel{}
	d, ack := delivery(t, StepMsg{Step: pipeline.StepClassify}, nil)
	HandleDelivery(context.Background(), &fakeRunner{}, ch, d, StepQueue)
	if ack.acks != 1 {
		t.Fatalf("expected ack, got %d", ack.acks)
	}
}

func TestHandleDeliveryRetriesFailure(t *testing.T) {
	ch := &fakeChannel{}
	d, ack := delivery(t, StepMsg{Step: pipeline.StepClassify, Chain: true}, amqp091.Table{"x-retries": int32(2)})
	HandleDelivery(context.Background(), &fakeRunner{err: errors.New("db down")}, ch, d, StepQueue)

	retried := ch.to(StepQueue + "_retry")
	if len(retried) != 1 {
		t.Fatalf("expected one retry publish, got %d", len(retried))
	}
	if got := Retries(retried[0].msg.Headers); got != 3 {
		t.Fatalf("expected x-retries 3, got %d", got)
	}
	if len(ch.to(StepQueue)) != 0 {
		t.Fatalf("expected failed step not to chain")
	}
	if ack.acks != 1 {
		t.Fatalf("expected original message acked, got %d", ack.acks)
	}
}

func TestHandleDeliveryDeadLettersAfterMaxRetries(t *testing.T) {
	ch := &fakeChannel{}
	d, _ := delivery(t, StepMsg{Step: pipeline.StepClassify}, amqp091.Table{"x-retries": int32(maxRetries)})
	HandleDelivery(context.Background(), &fakeRunner{err: errors.New("db down")}, ch, d, StepQueue)
	if len(ch.to(StepQueue+"_dlq")) != 1 {
		t.Fatalf("expected message dead-lettered")
	}
	if len(ch.to(StepQueue+"_retry")) != 0 {
		t.Fatalf("expected no retry")
	}
}

func TestHandleDeliveryDeadLettersInvalidMessages(t *testing.T) {
	ch := &fakeChannel{}
	runner := &fakeRunner{}

	d, _ := delivery(t, StepMsg{Step: "bogus"}, nil)
	HandleDelivery(context.Background(), runner, ch, d, StepQueue)

	ack := &fakeAck{}
	HandleDelivery(context.Background(), runner, ch, amqp091.Delivery{Acknowledger: ack, Body: []byte("{")}, StepQueue)

	if got := len(ch.to(StepQueue + "_dlq")); got != 2 {
		t.Fatalf("expected 2 dead-lettered messages, got %d", got)
	}
	if ack.acks != 1 {
		t.Fatalf("expected malformed message acked, got %d", ack.acks)
	}
}

func TestHandleDeliveryNacksWhenRetryPublishFails(t *testing.T) {
	ch := &fakeChannel{failOn: StepQueue + "_retry"}
	d, ack := delivery(t, StepMsg{Step: pipeline.StepClassify}, nil)
	HandleDelivery(context.Background(), &fakeRunner{err: errors.New("boom")}, ch, d, StepQueue)
	if ack.nacks != 1 || ack.acks != 0 {
		t.Fatalf("expected nack, got acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}
