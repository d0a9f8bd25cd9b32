package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLLMClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Prompt != "hello" {
			t.Fatalf("expected prompt %q, got %q", "hello", req.Prompt)
		}
		json.NewEncoder(w).Encode(completionResponse{Completion: "world"})
	}))
	defer srv.Close()

	client := NewLLMClient(srv.URL, "test-model", "")
	got, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if got != "world" {
		t.Fatalf("expected %q, got %q", "world", got)
	}
}

func TestLLMClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewLLMClient(srv.URL, "test-model", "")
	_, err := client.Complete(context.Background(), "hi")
	ce, ok := AsError(err)
	if !ok || ce.Kind != ExternalFailure {
		t.Fatalf("expected ExternalFailure, got: %v", err)
	}
}
