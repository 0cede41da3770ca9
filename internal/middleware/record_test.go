package middleware

import (
	"encoding/json"
	"testing"
)

func TestRedactRecordBodyAdmin(t *testing.T) {
	body := []byte(`{"id":"sub-1","api_key":"sk-live","limits":{"max_spending_bps":500},"nested":{"admin_secret_key":"s"}}`)
	out := redactRecordBody("/v1/admin/sub-accounts", body)

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if data["api_key"] == "sk-live" {
		t.Fatalf("api_key not redacted")
	}
	if nested, ok := data["nested"].(map[string]interface{}); ok {
		if nested["admin_secret_key"] == "s" {
			t.Fatalf("nested admin_secret_key not redacted")
		}
	}
	if data["id"] != "sub-1" {
		t.Fatalf("non-sensitive fields must survive redaction")
	}
}

func TestRedactRecordBodyNonSensitivePath(t *testing.T) {
	body := []byte(`{"target":"0xabc","payload":"0xdeadbeef"}`)
	out := redactRecordBody("/v1/execute", body)
	if out != string(body) {
		t.Fatalf("unexpected redaction on non-sensitive path")
	}
}

func TestRedactRecordBodyInvalidJSON(t *testing.T) {
	body := []byte("not-json")
	out := redactRecordBody("/v1/oracle/value", body)
	if out != "[redacted]" {
		t.Fatalf("expected redacted placeholder for invalid json")
	}
}
