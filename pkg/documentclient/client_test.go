package documentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

func TestRender_SendsRequestAndParsesResult(t *testing.T) {
	var got domain.RenderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/render" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Internal-API-Key") != "doc-key" {
			t.Fatalf("missing internal api key header")
		}
		if r.Header.Get("X-Tenant-ID") != "agency-1" {
			t.Fatalf("missing tenant header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file_ref":"s3://docs/RCT-2025-01-000001.pdf","content_hash":"abc123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "doc-key")
	result, err := client.Render(context.Background(), domain.RenderRequest{
		TenantID:  "agency-1",
		DocType:   domain.DocReceipt,
		SourceKey: "payment:p-1",
		Number:    "RCT-2025-01-000001",
		Context:   map[string]string{"amount": "90000.00"},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if result.FileRef != "s3://docs/RCT-2025-01-000001.pdf" || result.ContentHash != "abc123" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got.Number != "RCT-2025-01-000001" || got.Context["amount"] != "90000.00" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestRender_SurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template missing", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.Render(context.Background(), domain.RenderRequest{TenantID: "agency-1"})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "template missing") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRender_RequiresFileReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content_hash":"abc"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Render(context.Background(), domain.RenderRequest{TenantID: "agency-1"})
	if err == nil {
		t.Fatal("expected error when file_ref is missing")
	}
}

func TestRender_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("", "").Render(context.Background(), domain.RenderRequest{})
	if err == nil {
		t.Fatal("expected configuration error")
	}
}
