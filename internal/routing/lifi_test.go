package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "VelocityVault/internal/errors"
)

func TestRoutesPostsRequest(t *testing.T) {
	var got RoutesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/advanced/routes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"routes":[{"id":"r1","fromChainId":11155111,"toChainId":10,"fromAmount":"5000000","toAmount":"4990000","steps":[{"id":"s1","type":"cross","tool":"stargate"}]}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/v1/", Integrator: "velocityvault-hackmoney-2026"})
	routes, err := client.Routes(context.Background(), RoutesRequest{
		FromChainID:      11155111,
		ToChainID:        10,
		FromTokenAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		ToTokenAddress:   "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		FromAmount:       "5000000",
		FromAddress:      "0xagent",
		ToAddress:        "0xagent",
		Options:          &RouteOptions{Slippage: 0.03, Order: "RECOMMENDED"},
	})
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 1 || routes[0].ID != "r1" || routes[0].Steps[0].Tool != "stargate" {
		t.Fatalf("unexpected routes %+v", routes)
	}
	if got.Options == nil || got.Options.Integrator != "velocityvault-hackmoney-2026" || got.Options.Slippage != 0.03 {
		t.Fatalf("integrator/slippage not forwarded: %+v", got.Options)
	}
	if got.FromAmount != "5000000" || got.ToChainID != 10 {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestRoutesEmptyAndErrors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	req := RoutesRequest{FromChainID: 1, ToChainID: 10, FromAmount: "1"}
	routes, err := client.Routes(context.Background(), req)
	if err != nil || routes == nil || len(routes) != 0 {
		t.Fatalf("expected empty routes, got %v (%v)", routes, err)
	}

	status = http.StatusTooManyRequests
	_, err = client.Routes(context.Background(), req)
	if xerrors.CodeOf(err) != CodeRoutingFailure || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable ROUTING_FAILURE, got %v", err)
	}

	if _, err := client.Routes(context.Background(), RoutesRequest{FromChainID: 1, ToChainID: 10}); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("missing amount should fail validation, got %v", err)
	}
}
