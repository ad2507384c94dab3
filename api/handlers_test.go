/*
handlers_test.go - HTTP-level tests for the settlement API

Tests for:
- Driver registration and listing
- Load entry with both canonical and remote-source field names
- Override endpoint
- Settings validation
- Payout rollup and driver statement flows
- CSV export headers
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulpay/settlement-engine/api"
	"github.com/haulpay/settlement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testNow is a Wednesday inside the stock Friday-anchored cycle
// 2025-03-07 .. 2025-03-14 (pay Monday 2025-03-17).
var testNow = time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := api.NewHandler(store, zerolog.Nop())
	h.Now = func() time.Time { return testNow }

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createDriver(t *testing.T, srv *httptest.Server, name string, lease, pct float64) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/drivers", map[string]any{
		"name":                 name,
		"lease":                lease,
		"default_dispatch_pct": pct,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

// =============================================================================
// DRIVER ENDPOINT TESTS
// =============================================================================

func TestCreateDriver_AndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createDriver(t, srv, "Alice", 1300, 10)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/drivers/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, 1300.0, body["lease"])
	assert.Equal(t, 10.0, body["default_dispatch_pct"])
}

func TestCreateDriver_MissingName_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/drivers", map[string]any{"lease": 100})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestCreateDriver_StringMoneyFields_Coerced(t *testing.T) {
	// Money fields arrive as strings from some clients; they must parse.

	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/drivers", map[string]any{
		"name":                 "Bob",
		"lease":                "950.50",
		"default_dispatch_pct": "7.55",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 950.5, body["lease"])
	assert.Equal(t, 7.55, body["default_dispatch_pct"])
}

func TestGetDriver_Missing_404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/drivers/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// LOAD ENDPOINT TESTS
// =============================================================================

func TestCreateLoad_CanonicalFields_EvaluatedInResponse(t *testing.T) {
	// GIVEN: A driver with 10% default dispatch
	// WHEN: Creating an in-window, on-time load
	// THEN: The response carries the computed flags and fee math

	srv, _ := newTestServer(t)
	driverID := createDriver(t, srv, "Alice", 1300, 10)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id":   driverID,
		"deliveredAt": "2025-03-11T10:00:00Z",
		"bolAt":       "2025-03-11T14:30:00Z",
		"revenue":     1000,
		"fuel":        50,
		"misc":        20,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, true, body["in_window"])
	assert.Equal(t, false, body["late"])
	assert.Equal(t, true, body["included"])
	assert.Equal(t, 10.0, body["dispatch_pct"])
	assert.Equal(t, 100.0, body["dispatch_fee"])
	assert.Equal(t, 830.0, body["net"])
}

func TestCreateLoad_RemoteFieldNames_Normalized(t *testing.T) {
	// Records fetched from the remote source use snake_case names; they
	// must land in the same canonical shape.

	srv, store := newTestServer(t)
	driverID := createDriver(t, srv, "Alice", 1300, 10)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id":      driverID,
		"delivered_at":   "2025-03-11T10:00:00Z",
		"bol_at":         "2025-03-11T16:30:00Z",
		"dispatch_pct":   "7.55",
		"owner_override": "include",
		"load_no":        "LN-42",
		"revenue":        "1000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, true, body["late"], "16:30 is past the stock 15:00 cutoff")
	assert.Equal(t, true, body["included"], "override forces inclusion")
	assert.Equal(t, 7.55, body["dispatch_pct"])
	assert.Equal(t, "LN-42", body["load_no"])

	// And it persisted
	loads, err := store.ListLoadsByDriver(context.Background(), driverID)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, "LN-42", loads[0].LoadNo)
	require.NotNil(t, loads[0].DispatchPct)
}

func TestCreateLoad_UnknownDriver_404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id": "ghost",
		"revenue":   100,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetOverride_RoundTrips(t *testing.T) {
	srv, store := newTestServer(t)
	driverID := createDriver(t, srv, "Alice", 1300, 10)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id":   driverID,
		"deliveredAt": "2025-03-11T10:00:00Z",
		"bolAt":       "2025-03-11T14:30:00Z",
		"revenue":     1000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	loadID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/loads/"+loadID+"/override",
		map[string]any{"override": "exclude"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.GetLoad(context.Background(), loadID)
	require.NoError(t, err)
	assert.Equal(t, "exclude", string(got.Override))
}

// =============================================================================
// SETTINGS ENDPOINT TESTS
// =============================================================================

func TestSettings_DefaultsAndUpdate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "friday", body["anchor_weekday"])
	assert.Equal(t, 6.0, body["business_days"])
	assert.Equal(t, 15.0, body["cutoff_hour"])

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/settings", map[string]any{
		"anchor_weekday": "Monday",
		"business_days":  8,
		"cutoff_hour":    12,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "monday", body["anchor_weekday"], "weekday names normalize to lowercase")

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 8.0, body["business_days"])
	assert.Equal(t, 12.0, body["cutoff_hour"])
}

func TestSettings_InvalidValues_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/settings",
		map[string]any{"anchor_weekday": "friday", "business_days": 0, "cutoff_hour": 15})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/settings",
		map[string]any{"anchor_weekday": "friday", "business_days": 6, "cutoff_hour": 24})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// CYCLE ENDPOINT TESTS
// =============================================================================

func TestCurrentCycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/cycles/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-03-07T00:00:00Z", body["cycle_start"])
	assert.Equal(t, "2025-03-17T00:00:00Z", body["pay_date"])
}

func TestListCycles_CountAndSpacing(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/cycles?count=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cycles []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cycles))
	require.Len(t, cycles, 3)
	assert.Equal(t, "2025-03-07T00:00:00Z", cycles[0]["cycle_start"])
	assert.Equal(t, "2025-02-28T00:00:00Z", cycles[1]["cycle_start"])
	assert.Equal(t, "2025-02-21T00:00:00Z", cycles[2]["cycle_start"])
}

// =============================================================================
// PAYOUT FLOW TESTS
// =============================================================================

func TestPayouts_FullFlow(t *testing.T) {
	// GIVEN: Two drivers, one with an in-window load and one with none
	// WHEN: Fetching payouts for the cycle ending 2025-03-14
	// THEN: Rows are sorted by name and the totals row sums them

	srv, _ := newTestServer(t)
	aliceID := createDriver(t, srv, "Alice", 1300, 10)
	createDriver(t, srv, "Bob", 500, 5)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id":   aliceID,
		"deliveredAt": "2025-03-11T10:00:00Z",
		"bolAt":       "2025-03-11T14:30:00Z",
		"revenue":     1000,
		"fuel":        50,
		"misc":        20,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/payouts?cycle_end=2025-03-12", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rows := body["rows"].([]any)
	require.Len(t, rows, 2)

	alice := rows[0].(map[string]any)
	assert.Equal(t, "Alice", alice["driver_name"])
	assert.Equal(t, 1.0, alice["loads"])
	assert.Equal(t, 830.0, alice["net"])
	assert.Equal(t, -470.0, alice["final"], "net 830 minus 1300 lease")

	bob := rows[1].(map[string]any)
	assert.Equal(t, "Bob", bob["driver_name"])
	assert.Equal(t, 0.0, bob["loads"])
	assert.Equal(t, -500.0, bob["final"], "no loads still owes the lease")

	totals := body["totals"].(map[string]any)
	assert.Equal(t, 1.0, totals["loads"])
	assert.Equal(t, -970.0, totals["final"])
}

func TestDriverStatement(t *testing.T) {
	srv, _ := newTestServer(t)
	driverID := createDriver(t, srv, "Alice", 1300, 10)

	// One counted load, one late load
	for _, bol := range []string{"14:30", "16:30"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
			"driver_id":   driverID,
			"deliveredAt": "2025-03-11T10:00:00Z",
			"bolAt":       fmt.Sprintf("2025-03-11T%s:00Z", bol),
			"revenue":     1000,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet,
		srv.URL+"/api/drivers/"+driverID+"/statement?cycle_end=2025-03-12", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	loads := body["loads"].([]any)
	assert.Len(t, loads, 2, "statement shows all loads, counted or not")

	totals := body["totals"].(map[string]any)
	assert.Equal(t, 1.0, totals["loads"], "only the on-time load counts")
	assert.Equal(t, 900.0, totals["net"])
	assert.Equal(t, -400.0, totals["final"])
}

// =============================================================================
// EXPORT TESTS
// =============================================================================

func TestExportPayoutsCSV_Headers(t *testing.T) {
	srv, _ := newTestServer(t)
	createDriver(t, srv, "Alice", 1300, 10)

	resp, err := http.Get(srv.URL + "/api/payouts/export?cycle_end=2025-03-12")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "payouts_2025-03-14.csv")
}

func TestExportStatementCSV_TotalsAndLeaseRows(t *testing.T) {
	srv, _ := newTestServer(t)
	driverID := createDriver(t, srv, "Alice", 1300, 10)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/loads", map[string]any{
		"driver_id":   driverID,
		"deliveredAt": "2025-03-11T10:00:00Z",
		"bolAt":       "2025-03-11T14:30:00Z",
		"revenue":     1000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/drivers/" + driverID + "/statement/export?cycle_end=2025-03-12")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	body := buf.String()

	assert.Contains(t, body, "Date,Load #,Origin,Destination")
	assert.Contains(t, body, "Totals,,,,1000.00,0.00,0.00,,100.00,900.00")
	assert.Contains(t, body, "Lease,-1300.00,-400.00")
}

func TestExportPayoutsXLSX_ContentType(t *testing.T) {
	srv, _ := newTestServer(t)
	createDriver(t, srv, "Alice", 1300, 10)

	resp, err := http.Get(srv.URL + "/api/payouts/export?format=xlsx&cycle_end=2025-03-12")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
}
