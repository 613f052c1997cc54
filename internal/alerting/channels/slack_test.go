package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/warehouse-ops/pipeline/internal/alerting"
)

func TestSlackChannel_Send(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewSlackChannel(server.URL)
	if err != nil {
		t.Fatalf("NewSlackChannel: %v", err)
	}
	if err := channel.Send(context.Background(), testAlert(alerting.SeverityCritical)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	text, _ := payload["text"].(string)
	if text != ":rotating_light: Warehouse Alert: Negative Stock Risk" {
		t.Errorf("text = %q", text)
	}

	attachments, _ := payload["attachments"].([]any)
	if len(attachments) != 1 {
		t.Fatalf("attachments = %v", payload["attachments"])
	}
	attachment := attachments[0].(map[string]any)
	if attachment["color"] != "#8B0000" {
		t.Errorf("color = %v", attachment["color"])
	}
	if attachment["text"] != "Projected stock below threshold for ITEM-9" {
		t.Errorf("attachment text = %v", attachment["text"])
	}

	fields, _ := attachment["fields"].([]any)
	titles := map[string]string{}
	for _, f := range fields {
		field := f.(map[string]any)
		titles[field["title"].(string)], _ = field["value"].(string)
	}
	if titles["Severity"] != "CRITICAL" {
		t.Errorf("severity field = %q", titles["Severity"])
	}
	if titles["Alert ID"] != "alert-1" {
		t.Errorf("alert id field = %q", titles["Alert ID"])
	}
	if titles["item_id"] != "ITEM-9" {
		t.Errorf("metadata field = %q", titles["item_id"])
	}
}

func TestSlackChannel_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel, err := NewSlackChannel(server.URL)
	if err != nil {
		t.Fatalf("NewSlackChannel: %v", err)
	}
	if err := channel.Send(context.Background(), testAlert(alerting.SeverityWarning)); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestNewSlackChannel_RequiresURL(t *testing.T) {
	if _, err := NewSlackChannel(""); err == nil {
		t.Fatal("expected error for empty webhook url")
	}
}

func TestSlackSeverityColors(t *testing.T) {
	cases := map[alerting.Severity]string{
		alerting.SeverityInfo:     "#36a64f",
		alerting.SeverityWarning:  "#ff9500",
		alerting.SeverityError:    "#ff0000",
		alerting.SeverityCritical: "#8B0000",
	}
	for severity, want := range cases {
		if got := slackSeverityColor(severity); got != want {
			t.Errorf("slackSeverityColor(%s) = %q, want %q", severity, got, want)
		}
	}
	if got := slackSeverityColor("bogus"); got != "#cccccc" {
		t.Errorf("unknown severity color = %q", got)
	}
}
