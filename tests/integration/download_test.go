//go:build integration

package integration

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// requestLink places an order for productID and asks for its download link.
func requestLink(t *testing.T, email, productID string) linkResponse {
	t.Helper()

	token := issueToken(t, email, "CUSTOMER")
	o := placeOrder(t, token, orderItemRequest{ProductID: productID, Quantity: 1})

	resp := doRequest(t, http.MethodGet, "/api/orders/"+o.ID+"/download/"+productID, token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("link: expected 200, got %d", resp.StatusCode)
	}
	return decodeJSON[linkResponse](t, resp)
}

func TestSecureDownload(t *testing.T) {
	link := requestLink(t, "grace@example.com", "p2")

	if link.FileName != "Practical Go Handbook.pdf" {
		t.Errorf("file name: got %q", link.FileName)
	}
	if !strings.Contains(link.DownloadURL, "/api/download/secure/p2?token=") {
		t.Fatalf("unexpected download url %q", link.DownloadURL)
	}

	resp := doGet(t, localPath(t, link.DownloadURL))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type: got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="Practical Go Handbook.pdf"` {
		t.Errorf("content disposition: got %q", cd)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("cache control: got %q", cc)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "%PDF-1.7 practical go handbook\n" {
		t.Errorf("body: got %q", data)
	}
}

func TestSecureDownload_Denied(t *testing.T) {
	link := requestLink(t, "heidi@example.com", "p1")
	path := localPath(t, link.DownloadURL)

	u, err := url.Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	token := u.Query().Get("token")

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	forged := base64.RawURLEncoding.EncodeToString(
		[]byte(strings.Replace(string(raw), `"productId":"p1"`, `"productId":"p2"`, 1)))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing token", "/api/download/secure/p1", http.StatusBadRequest},
		{"garbage token", "/api/download/secure/p1?token=garbage", http.StatusUnauthorized},
		{"forged product", "/api/download/secure/p2?token=" + url.QueryEscape(forged), http.StatusUnauthorized},
		{"path mismatch", "/api/download/secure/p2?token=" + url.QueryEscape(token), http.StatusUnauthorized},
		{"token only route", "/api/download?token=" + url.QueryEscape(token), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doGet(t, tt.path)
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestDownloadLink_NotOwner(t *testing.T) {
	token := issueToken(t, "ivan@example.com", "CUSTOMER")
	o := placeOrder(t, token, orderItemRequest{ProductID: "p1", Quantity: 1})

	resp := doRequest(t, http.MethodGet, "/api/orders/"+o.ID+"/download/p1", issueToken(t, "judy@example.com", "CUSTOMER"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	notInOrder := doRequest(t, http.MethodGet, "/api/orders/"+o.ID+"/download/p2", token, nil)
	defer notInOrder.Body.Close()
	if notInOrder.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", notInOrder.StatusCode)
	}
}
