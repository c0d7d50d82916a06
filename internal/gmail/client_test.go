package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func fakeGmail(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/messages/send") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendSuccess(t *testing.T) {
	srv := fakeGmail(t, http.StatusOK, `{"id":"m1","threadId":"t1","labelIds":["SENT"]}`)
	client := NewClient(option.WithEndpoint(srv.URL))

	res, err := client.Send(context.Background(), "tok", "cmF3")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ID != "m1" || res.ThreadID != "t1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Labels) != 1 || res.Labels[0] != "SENT" {
		t.Fatalf("unexpected labels: %v", res.Labels)
	}
}

func TestSendPassesRawPayload(t *testing.T) {
	var gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			gotRaw = req.Raw
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"m1","threadId":"t1"}`)
	}))
	defer srv.Close()

	client := NewClient(option.WithEndpoint(srv.URL))
	if _, err := client.Send(context.Background(), "tok", "cmF3LW1lc3NhZ2U"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotRaw != "cmF3LW1lc3NhZ2U" {
		t.Fatalf("raw payload not forwarded, got %q", gotRaw)
	}
}

func TestSendIncompleteResponseIsError(t *testing.T) {
	srv := fakeGmail(t, http.StatusOK, `{"id":"","threadId":""}`)
	client := NewClient(option.WithEndpoint(srv.URL))

	_, err := client.Send(context.Background(), "tok", "cmF3")
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestValidAddress(t *testing.T) {
	valid := []string{"a@b.com", "user.name+tag@example.co.uk"}
	invalid := []string{"", "a", "a@b", "a b@c.com", "@x.com"}

	for _, s := range valid {
		if !ValidAddress(s) {
			t.Errorf("expected %q valid", s)
		}
	}
	for _, s := range invalid {
		if ValidAddress(s) {
			t.Errorf("expected %q invalid", s)
		}
	}
}
