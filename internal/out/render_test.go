package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    []map[string]any{{"asset": "XLM", "amount": "50", "contract_id": "C..."}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	opts := Options{OutputMode: "json", SelectFields: []string{"asset", "amount"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, opts); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(got) != 1 || got[0]["asset"] != "XLM" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := got[0]["contract_id"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    []map[string]any{{"protocol": "blend", "amount": "42"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "protocol=blend") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestFailureEnvelopeCarriesTypedError(t *testing.T) {
	err := clierr.New(clierr.CodeTxTimeout, "transaction not confirmed within budget; it may still be included")
	env := Failure("lend", "testnet", "req-1", err)

	if env.Success {
		t.Fatal("failure envelope must not be successful")
	}
	if env.Error == nil || env.Error.Code != int(clierr.CodeTxTimeout) {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
	if env.Error.Type != "tx_timeout" {
		t.Fatalf("unexpected error type: %s", env.Error.Type)
	}
	if env.Meta.Command != "lend" || env.Meta.Network != "testnet" {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}
}

func TestSuccessEnvelopeMeta(t *testing.T) {
	meta := model.EnvelopeMeta{Partial: true}
	env := Success("portfolio", "testnet", "req-2", map[string]any{"total": "0"}, meta)
	if !env.Success || env.Error != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !env.Meta.Partial || env.Meta.Command != "portfolio" {
		t.Fatalf("meta not carried: %+v", env.Meta)
	}
}
