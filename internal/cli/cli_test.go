package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/aegis-council/internal/config"
	"github.com/nidhogg/aegis-council/internal/ingest"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestRunDemo(t *testing.T) {
	var out bytes.Buffer
	if err := runDemo(context.Background(), &out, config.Default(), zap.NewNop()); err != nil {
		t.Fatalf("demo failed: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{
		"=== Scenario 1: Impossible travel ===",
		"card CARD_12345: $200.00 at Coffee LAX (Los Angeles), risk HIGH",
		"Luxury Watch Store",
		"[TXN_004]",
		"batch: 0 blocked, 5 allowed, 0 errors",
		"topic payments",
		"health: ",
		"fraud: ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("demo output missing %q", want)
		}
	}
}

type recordingClient struct {
	added []*redis.XAddArgs
}

func (r *recordingClient) XRead(context.Context, *redis.XReadArgs) *redis.XStreamSliceCmd {
	return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
}

func (r *recordingClient) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	r.added = append(r.added, a)
	return redis.NewStringResult("7-0", nil)
}

func TestRunPublish(t *testing.T) {
	rdb := &recordingClient{}
	id, err := runPublish(context.Background(), rdb,
		strings.NewReader(`{"card_id":"c9","amount":42,"merchant":"Deli"}`),
		"aegis:transactions", ingest.KindTransaction, "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "7-0" || len(rdb.added) != 1 || rdb.added[0].Stream != "aegis:transactions" {
		t.Fatalf("unexpected publish result id=%q added=%v", id, rdb.added)
	}
}

func TestRunPublishRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, stream, kind, body string
	}{
		{"no stream", "", ingest.KindTransaction, `{"card_id":"c"}`},
		{"not json", "s", ingest.KindTransaction, `{card`},
		{"missing card", "s", ingest.KindTransaction, `{"amount":3}`},
		{"empty record", "s", ingest.KindStream, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rdb := &recordingClient{}
			if _, err := runPublish(context.Background(), rdb, strings.NewReader(tt.body), tt.stream, tt.kind, "x"); err == nil {
				t.Fatal("expected an error")
			}
			if len(rdb.added) != 0 {
				t.Fatal("invalid payload was published")
			}
		})
	}
}

func TestDefaultStream(t *testing.T) {
	streams := []string{"tx", "telemetry"}
	if got := defaultStream(streams, ingest.KindStream); got != "telemetry" {
		t.Errorf("stream kind got %q", got)
	}
	if got := defaultStream(streams, ingest.KindTransaction); got != "tx" {
		t.Errorf("transaction kind got %q", got)
	}
	if got := defaultStream(nil, ingest.KindStream); got != "" {
		t.Errorf("no streams got %q", got)
	}
}
