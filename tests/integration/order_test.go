//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestCreateOrder_NoAuth(t *testing.T) {
	resp := doRequest(t, http.MethodPost, "/api/orders", "", orderRequest{
		Items: []orderItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	resp := doRequest(t, http.MethodPost, "/api/orders", issueToken(t, "alice@example.com", "CUSTOMER"), orderRequest{
		Items: []orderItemRequest{},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	resp := doRequest(t, http.MethodPost, "/api/orders", issueToken(t, "alice@example.com", "CUSTOMER"), orderRequest{
		Items: []orderItemRequest{{ProductID: "p999", Quantity: 1}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_ClientTotalRejected(t *testing.T) {
	body := map[string]any{
		"items":       []orderItemRequest{{ProductID: "p1", Quantity: 1}},
		"totalAmount": "0.01",
	}
	resp := doRequest(t, http.MethodPost, "/api/orders", issueToken(t, "alice@example.com", "CUSTOMER"), body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_SingleItem(t *testing.T) {
	o := placeOrder(t, issueToken(t, "alice@example.com", "CUSTOMER"),
		orderItemRequest{ProductID: "p1", Quantity: 2}, // 2x Ghost Toolkit Pro $10.00
	)

	if !uuidPattern.MatchString(o.ID) {
		t.Errorf("order ID %q is not a valid UUID", o.ID)
	}
	if o.TotalAmount != "20.00" {
		t.Errorf("total: got %s, want 20.00", o.TotalAmount)
	}
	if o.Status != "PAID" {
		t.Errorf("status: got %s, want PAID", o.Status)
	}
	if o.CustomerEmail != "alice@example.com" {
		t.Errorf("customer: got %s", o.CustomerEmail)
	}
	if o.LicenseKey == "" {
		t.Error("license key is empty")
	}
	if len(o.Items) != 1 || o.Items[0].Price != "10.00" {
		t.Errorf("items: got %+v", o.Items)
	}
}

func TestCreateOrder_MultipleItems(t *testing.T) {
	o := placeOrder(t, issueToken(t, "alice@example.com", "CUSTOMER"),
		orderItemRequest{ProductID: "p2", Quantity: 1}, // $24.90
		orderItemRequest{ProductID: "p3", Quantity: 3}, // 3x $4.99 = $14.97
	)

	if o.TotalAmount != "39.87" {
		t.Errorf("total: got %s, want 39.87", o.TotalAmount)
	}
	if len(o.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(o.Items))
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	o := placeOrder(t, issueToken(t, "carol@example.com", "CUSTOMER"),
		orderItemRequest{ProductID: "p1", Quantity: 1})

	resp := doRequest(t, http.MethodGet, "/api/orders/"+o.ID, issueToken(t, "carol@example.com", "CUSTOMER"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON[orderResponse](t, resp)
	if got.Items[0].ProductName != "Ghost Toolkit Pro" {
		t.Errorf("product name: got %q", got.Items[0].ProductName)
	}

	other := doRequest(t, http.MethodGet, "/api/orders/"+o.ID, issueToken(t, "mallory@example.com", "CUSTOMER"), nil)
	defer other.Body.Close()
	if other.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger: expected 404, got %d", other.StatusCode)
	}
}

func TestCustomerOrders(t *testing.T) {
	token := issueToken(t, "dave@example.com", "CUSTOMER")
	first := placeOrder(t, token, orderItemRequest{ProductID: "p1", Quantity: 1})
	second := placeOrder(t, token, orderItemRequest{ProductID: "p2", Quantity: 1})

	resp := doRequest(t, http.MethodGet, "/api/customers/dave@example.com/orders", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	orders := decodeJSON[[]orderResponse](t, resp)
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Errorf("orders not newest first: %s, %s", orders[0].ID, orders[1].ID)
	}
}

func TestCustomerOrders_EmailCaseInsensitive(t *testing.T) {
	token := issueToken(t, "Erin@Example.com", "CUSTOMER")
	placed := placeOrder(t, token, orderItemRequest{ProductID: "p1", Quantity: 1})
	if placed.CustomerEmail != "erin@example.com" {
		t.Errorf("expected stored email erin@example.com, got %q", placed.CustomerEmail)
	}

	resp := doRequest(t, http.MethodGet, "/api/customers/erin@example.com/orders", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	orders := decodeJSON[[]orderResponse](t, resp)
	if len(orders) != 1 || orders[0].ID != placed.ID {
		t.Fatalf("expected the order placed as Erin@Example.com, got %+v", orders)
	}
}

func TestUpdateStatus(t *testing.T) {
	admin := issueToken(t, "ops@example.com", "ADMIN")
	o := placeOrder(t, issueToken(t, "erin@example.com", "CUSTOMER"),
		orderItemRequest{ProductID: "p1", Quantity: 1})

	same := doRequest(t, http.MethodPatch, "/api/orders/"+o.ID+"/status", admin, map[string]string{"status": "PAID"})
	defer same.Body.Close()
	if same.StatusCode != http.StatusOK {
		t.Fatalf("PAID->PAID: expected 200, got %d", same.StatusCode)
	}

	conflict := doRequest(t, http.MethodPatch, "/api/orders/"+o.ID+"/status", admin, map[string]string{"status": "FAILED"})
	defer conflict.Body.Close()
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("PAID->FAILED: expected 409, got %d", conflict.StatusCode)
	}

	invalid := doRequest(t, http.MethodPatch, "/api/orders/"+o.ID+"/status", admin, map[string]string{"status": "SHIPPED"})
	defer invalid.Body.Close()
	if invalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("SHIPPED: expected 400, got %d", invalid.StatusCode)
	}

	forbidden := doRequest(t, http.MethodPatch, "/api/orders/"+o.ID+"/status",
		issueToken(t, "erin@example.com", "CUSTOMER"), map[string]string{"status": "PAID"})
	defer forbidden.Body.Close()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("customer: expected 403, got %d", forbidden.StatusCode)
	}
}

func TestDashboardStats(t *testing.T) {
	placeOrder(t, issueToken(t, "frank@example.com", "CUSTOMER"),
		orderItemRequest{ProductID: "p1", Quantity: 1})

	resp := doRequest(t, http.MethodGet, "/api/admin/stats", issueToken(t, "ops@example.com", "ADMIN"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stats := decodeJSON[struct {
		TotalRevenue string          `json:"totalRevenue"`
		TotalOrders  int             `json:"totalOrders"`
		RecentOrders []orderResponse `json:"recentOrders"`
	}](t, resp)
	if stats.TotalOrders < 1 {
		t.Errorf("total orders: got %d", stats.TotalOrders)
	}
	if stats.TotalRevenue == "" || stats.TotalRevenue == "0.00" {
		t.Errorf("total revenue: got %q", stats.TotalRevenue)
	}
	if len(stats.RecentOrders) == 0 || len(stats.RecentOrders) > 5 {
		t.Errorf("recent orders: got %d", len(stats.RecentOrders))
	}
}
