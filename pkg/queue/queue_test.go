package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"EdgeLab/pkg/logger"
)

type replayPayload struct {
	HypothesisID string `json:"hypothesis_id"`
	To           string `json:"to"`
}

func TestParsePayloadForms(t *testing.T) {
	want := replayPayload{HypothesisID: "h-1", To: "ACTIVE"}

	got, err := ParsePayload[replayPayload](want)
	if err != nil || *got != want {
		t.Fatalf("value form: %+v err=%v", got, err)
	}

	got, err = ParsePayload[replayPayload](&want)
	if err != nil || got != &want {
		t.Fatalf("pointer form: %+v err=%v", got, err)
	}

	raw := json.RawMessage(`{"hypothesis_id":"h-1","to":"ACTIVE"}`)
	got, err = ParsePayload[replayPayload](raw)
	if err != nil || *got != want {
		t.Fatalf("raw JSON form: %+v err=%v", got, err)
	}

	// The form a payload takes after a generic JSON decode.
	m := map[string]interface{}{"hypothesis_id": "h-1", "to": "ACTIVE"}
	got, err = ParsePayload[replayPayload](m)
	if err != nil || *got != want {
		t.Fatalf("map form: %+v err=%v", got, err)
	}
}

func TestParsePayloadRejectsMismatch(t *testing.T) {
	if _, err := ParsePayload[replayPayload](json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("array into struct should fail")
	}
}

func TestNormalizePayload(t *testing.T) {
	out := normalizePayload(map[string]interface{}{"k": "v"})
	raw, ok := out.(json.RawMessage)
	if !ok {
		t.Fatalf("map not normalized, got %T", out)
	}
	if string(raw) != `{"k":"v"}` {
		t.Fatalf("normalized to %s", raw)
	}

	s := "untouched"
	if got := normalizePayload(s); got != s {
		t.Fatalf("string changed to %v", got)
	}
}

func TestNewRedisQueueNormalizesConfig(t *testing.T) {
	q := NewRedisQueue(logger.Nop(), &QueueConfig{}, nil)
	if q.cfg.Workers != 1 {
		t.Errorf("workers = %d, want 1", q.cfg.Workers)
	}
	if q.cfg.RetryDelay != 10*time.Second {
		t.Errorf("retry delay = %v, want 10s", q.cfg.RetryDelay)
	}

	q = NewRedisQueue(logger.Nop(), nil, nil)
	if q.cfg.Workers != 1 {
		t.Errorf("nil config workers = %d, want 1", q.cfg.Workers)
	}
}

type stubJob struct {
	name    string
	msgType string
}

func (j stubJob) Name() string { return j.name }
func (j stubJob) Type() string { return j.msgType }
func (j stubJob) Handle(context.Context, interface{}) error {
	return nil
}

func TestRegisterJobKeepsFirst(t *testing.T) {
	q := NewRedisQueue(logger.Nop(), nil, nil)
	q.RegisterJob(stubJob{name: "first", msgType: "t"})
	q.RegisterJob(stubJob{name: "second", msgType: "t"})

	if got := q.jobs["t"].Name(); got != "first" {
		t.Fatalf("registered job = %q, want first", got)
	}
}
