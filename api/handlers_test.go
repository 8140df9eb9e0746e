package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/stock-ledger/api"
	"github.com/fieldworks/stock-ledger/ledger"
	"github.com/fieldworks/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *api.Handler) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	handler := api.NewHandler(store, log)
	_, err = handler.Registry.EnsureCoreLocations(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, handler
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func createItem(t *testing.T, baseURL, id string) {
	resp := postJSON(t, baseURL+"/api/items", map[string]any{
		"id": id, "name": id, "unit": "each",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// TESTS
// =============================================================================

func TestAPI_CreateAndGetItem(t *testing.T) {
	srv, _ := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	resp, err := http.Get(srv.URL + "/api/items/item-cable")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var item map[string]any
	decodeBody(t, resp, &item)
	assert.Equal(t, "item-cable", item["id"])
	assert.Equal(t, true, item["tracks_inventory"])
}

func TestAPI_GetUnknownItemReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/items/item-nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_AdjustAndReadBalance(t *testing.T) {
	srv, _ := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	resp := postJSON(t, srv.URL+"/api/movements/adjust", map[string]any{
		"item_id": "item-cable", "location_id": string(ledger.WarehouseLocationID),
		"delta": 10, "actor": "alex", "idempotency_key": "adj-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var movement struct {
		Entries  []map[string]any `json:"entries"`
		Replayed bool             `json:"replayed"`
	}
	decodeBody(t, resp, &movement)
	assert.Len(t, movement.Entries, 1)
	assert.False(t, movement.Replayed)

	balResp, err := http.Get(srv.URL + "/api/balances?item_id=item-cable&location_id=" + string(ledger.WarehouseLocationID))
	require.NoError(t, err)
	defer balResp.Body.Close()
	require.Equal(t, http.StatusOK, balResp.StatusCode)

	var balance struct {
		QuantityOnHand float64 `json:"quantity_on_hand"`
	}
	decodeBody(t, balResp, &balance)
	assert.Equal(t, 10.0, balance.QuantityOnHand)
}

func TestAPI_ReplayedAdjustIs200WithFlag(t *testing.T) {
	// A retried idempotent movement is a success response, never a conflict.

	srv, _ := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	body := map[string]any{
		"item_id": "item-cable", "location_id": string(ledger.WarehouseLocationID),
		"delta": 5, "actor": "alex", "idempotency_key": "adj-1",
	}
	first := postJSON(t, srv.URL+"/api/movements/adjust", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/movements/adjust", body)
	require.Equal(t, http.StatusOK, second.StatusCode)

	var movement struct {
		Replayed bool `json:"replayed"`
	}
	decodeBody(t, second, &movement)
	assert.True(t, movement.Replayed)
}

func TestAPI_TransferInsufficientStockReturns409(t *testing.T) {
	srv, handler := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	vehicle, err := handler.Registry.EnsureOwnedLocation(context.Background(), ledger.KindVehicle, "veh-1", "Van 1")
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/movements/transfer", map[string]any{
		"item_id": "item-cable", "from_location_id": string(ledger.WarehouseLocationID),
		"to_location_id": string(vehicle.ID), "quantity": 5,
		"actor": "alex", "idempotency_key": "xfer-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_AdjustValidationFailureReturns400(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing actor and idempotency_key
	resp := postJSON(t, srv.URL+"/api/movements/adjust", map[string]any{
		"item_id": "item-cable", "location_id": "loc-warehouse", "delta": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ReceiveBooksIntoLoadingBay(t *testing.T) {
	srv, _ := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	resp := postJSON(t, srv.URL+"/api/movements/receive", map[string]any{
		"purchase_order_id": "po-100",
		"lines":             []map[string]any{{"item_id": "item-cable", "quantity": 20}},
		"actor":             "alex",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var movement struct {
		Entries []struct {
			LocationID string `json:"location_id"`
			Reason     string `json:"reason"`
		} `json:"entries"`
	}
	decodeBody(t, resp, &movement)
	require.Len(t, movement.Entries, 1)
	assert.Equal(t, string(ledger.LoadingBayLocationID), movement.Entries[0].LocationID)
	assert.Equal(t, "receipt", movement.Entries[0].Reason)
}

func TestAPI_BaselineExecuteTwiceReturns409(t *testing.T) {
	srv, _ := newTestServer(t)
	createItem(t, srv.URL, "item-cable")

	body := map[string]any{
		"changes": []map[string]any{{
			"item_id": "item-cable", "location_id": string(ledger.WarehouseLocationID),
			"counted_qty": 12, "delta": 12,
		}},
		"actor": "alex",
	}
	first := postJSON(t, srv.URL+"/api/baseline/execute", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/baseline/execute", body)
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestAPI_IntegrityReportHealthy(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/integrity/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Healthy bool `json:"healthy"`
	}
	decodeBody(t, resp, &report)
	assert.True(t, report.Healthy)
}

func TestAPI_HealthzOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
