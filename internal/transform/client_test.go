package transform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubmit_Accepted(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(SubmitResponse{ExternalID: "ext-1", Status: ProviderQueued})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 2*time.Second)
	ack, err := c.Submit(context.Background(), "upscale", "http://files/in.png", map[string]string{"scale": "2"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.ExternalID != "ext-1" || ack.Status != ProviderQueued {
		t.Fatalf("ack = %+v", ack)
	}
	if gotPath != "/v1/transform/upscale" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["input_url"] != "http://files/in.png" {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["params"]; !ok {
		t.Fatalf("params missing from body: %v", gotBody)
	}
}

func TestSubmit_RejectedOn422(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"no face detected"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Submit(context.Background(), "face_swap", "http://files/in.png", nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSubmit_UnavailableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Submit(context.Background(), "upscale", "http://files/in.png", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubmit_UnavailableOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening

	c := New(srv.URL, "", time.Second)
	_, err := c.Submit(context.Background(), "upscale", "http://files/in.png", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubmit_MissingIDIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Submit(context.Background(), "upscale", "http://files/in.png", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for an ack without id, got %v", err)
	}
}

func TestStatus_ReportsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transform/ext-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{Status: ProviderReady, ResultURL: "http://cdn/out.png"})
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	st, err := c.Status(context.Background(), "ext-9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != ProviderReady || st.ResultURL != "http://cdn/out.png" {
		t.Fatalf("status = %+v", st)
	}
}

func TestStatus_UnavailableOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Status(context.Background(), "ghost")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestReadErrorMessage(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"error":"no face detected"}`, "no face detected"},
		{`{"message":"bad input"}`, "bad input"},
		{`plain text`, "plain text"},
		{``, "no detail"},
	}
	for _, tc := range cases {
		got := readErrorMessage(strings.NewReader(tc.body))
		if got != tc.want {
			t.Fatalf("readErrorMessage(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}
