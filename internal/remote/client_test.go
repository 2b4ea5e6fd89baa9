package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.RemoteConfig{
		BaseURL:        srv.URL,
		Username:       "svc",
		Password:       "secret",
		CallerSysID:    "caller-1",
		ContactType:    "virtual_agent",
		TimeoutSeconds: 2,
	}, zap.NewNop())
}

func TestCreateIncidentPayload(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/now/table/incident" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"number":"INC0010001","sys_id":"abc123"}}`))
	})

	group := "grp-9"
	ref, err := client.CreateIncident(context.Background(), IncidentRequest{
		ShortDescription: "VPN down",
		Description:      "cannot connect",
		Category:         "network",
		Priority:         "critical",
		AssignmentGroup:  &group,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.Number != "INC0010001" || ref.SysID != "abc123" || !ref.Complete() {
		t.Errorf("unexpected ref %+v", ref)
	}
	if got["impact"].(float64) != 1 || got["urgency"].(float64) != 1 {
		t.Errorf("expected impact=1 urgency=1, got %v/%v", got["impact"], got["urgency"])
	}
	if got["short_description"] != "VPN down" || got["caller_id"] != "caller-1" || got["assignment_group"] != "grp-9" {
		t.Errorf("unexpected payload %v", got)
	}
	if got["contact_type"] != "virtual_agent" {
		t.Errorf("unexpected contact type %v", got["contact_type"])
	}
}

func TestCreateIncidentNullGroup(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"result":{"number":"INC1","sys_id":"s1"}}`))
	})
	if _, err := client.CreateIncident(context.Background(), IncidentRequest{ShortDescription: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	value, present := got["assignment_group"]
	if !present || value != nil {
		t.Errorf("expected explicit null assignment_group, got %v (present=%v)", value, present)
	}
}

func TestCreateIncidentRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	_, err := client.CreateIncident(context.Background(), IncidentRequest{ShortDescription: "x"})
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rejection.Status != http.StatusInternalServerError || rejection.Body != `{"error":"boom"}` {
		t.Errorf("unexpected rejection %+v", rejection)
	}
	if rejection.Permanent() {
		t.Error("500 must not be permanent")
	}
}

func TestCreateIncidentMissingIdentifiers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{}}`))
	})
	ref, err := client.CreateIncident(context.Background(), IncidentRequest{ShortDescription: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.Complete() {
		t.Errorf("expected incomplete ref, got %+v", ref)
	}
}

func TestCreateIncidentTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.CreateIncident(ctx, IncidentRequest{ShortDescription: "x"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestCreateIncidentConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(config.RemoteConfig{BaseURL: base, TimeoutSeconds: 1}, zap.NewNop())
	_, err := client.CreateIncident(context.Background(), IncidentRequest{ShortDescription: "x"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestFetchStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/now/table/incident/abc123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"result":{"state":"2"}}`))
	})
	state, ok := client.FetchStatus(context.Background(), "abc123")
	if !ok || state != "2" {
		t.Errorf("FetchStatus = (%q,%v)", state, ok)
	}
}

func TestFetchStatusFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"missing state": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":{}}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			if state, ok := client.FetchStatus(context.Background(), "abc"); ok {
				t.Errorf("expected failure, got %q", state)
			}
		})
	}
}

func TestFetchStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := client.FetchStatus(ctx, "abc"); ok {
		t.Fatal("expected timeout to report not ok")
	}
}

func TestCreateGroup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/now/table/sys_user_group" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"sys_id":"g-1"}}`))
	})
	id, err := client.CreateGroup(context.Background(), "Network Support", "Network Support assignment group")
	if err != nil || id != "g-1" {
		t.Fatalf("CreateGroup = (%q,%v)", id, err)
	}
}

func TestRejectionPermanent(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		if !(&RejectionError{Status: status}).Permanent() {
			t.Errorf("status %d should be permanent", status)
		}
	}
	for _, status := range []int{408, 429, 500, 502, 503} {
		if (&RejectionError{Status: status}).Permanent() {
			t.Errorf("status %d should be retryable", status)
		}
	}
}
