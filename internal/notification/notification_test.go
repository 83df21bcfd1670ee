package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/logging"
)

type recordingProvider struct {
	kinds    []queryportal.NotificationKind
	subjects []string
	err      error
}

func (p *recordingProvider) Send(ctx context.Context, kind queryportal.NotificationKind, subject, message string) error {
	p.kinds = append(p.kinds, kind)
	p.subjects = append(p.subjects, subject)
	return p.err
}

func (p *recordingProvider) Type() string { return "recording" }

func sampleRequest() *queryportal.ExecutionRequest {
	return &queryportal.ExecutionRequest{
		ID:         "req-1",
		Backend:    queryportal.BackendPostgres,
		InstanceID: "pg-main",
		Database:   "reports",
		Kind:       queryportal.SubmissionQuery,
	}
}

func TestNotifyFansOutToAllProviders(t *testing.T) {
	a := &recordingProvider{}
	b := &recordingProvider{}
	svc := NewService(logging.NopLogger{})
	svc.AddProvider(a)
	svc.AddProvider(b)

	out := queryportal.Outcome{Success: true, RowCount: 3}
	svc.Notify(context.Background(), queryportal.NotifyResult, sampleRequest(), "exec-1", &out, "")

	if len(a.kinds) != 1 || len(b.kinds) != 1 {
		t.Fatalf("sends: a=%d b=%d", len(a.kinds), len(b.kinds))
	}
	if !strings.Contains(a.subjects[0], "succeeded") {
		t.Fatalf("subject = %q", a.subjects[0])
	}
}

func TestNotifySwallowsProviderErrors(t *testing.T) {
	failing := &recordingProvider{err: errors.New("smtp down")}
	after := &recordingProvider{}
	svc := NewService(logging.NopLogger{})
	svc.AddProvider(failing)
	svc.AddProvider(after)

	svc.Notify(context.Background(), queryportal.NotifyAudit, sampleRequest(), "exec-1", nil, "approved change")

	if len(after.kinds) != 1 {
		t.Fatal("later provider skipped after earlier failure")
	}
}

func TestRenderFailureMessage(t *testing.T) {
	out := queryportal.Outcome{Success: false, Error: "query timed out after 30000ms"}
	subject, message := render(queryportal.NotifyResult, sampleRequest(), "exec-1", &out, "")
	if !strings.Contains(subject, "failed") {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(message, "query timed out") {
		t.Fatalf("message = %q", message)
	}
}

func TestWebhookProviderPosts(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL)
	err := p.Send(context.Background(), queryportal.NotifyResult, "subject", "message")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["subject"] != "subject" || got["kind"] != "result" {
		t.Fatalf("payload = %v", got)
	}
}

func TestWebhookProviderReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewSlackProvider(srv.URL)
	if err := p.Send(context.Background(), queryportal.NotifyResult, "s", "m"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
