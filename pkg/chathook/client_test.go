package chathook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostMessage(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(nil, nil)
	if err := client.PostMessage(context.Background(), srv.URL, "deal won!"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if got["text"] != "deal won!" {
		t.Fatalf("payload: %v", got)
	}
}

func TestCall_ForwardsPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(nil, nil)
	payload := map[string]interface{}{"lead_id": 7.0, "source": "referral"}
	if err := client.Call(context.Background(), srv.URL, payload); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got["lead_id"] != 7.0 || got["source"] != "referral" {
		t.Fatalf("payload: %v", got)
	}
}

func TestCall_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(nil, nil)
	if err := client.Call(context.Background(), srv.URL, map[string]interface{}{}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
