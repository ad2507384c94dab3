/*
handlers.go - HTTP API handlers for the settlement system

PURPOSE:
  Exposes drivers, loads, cycle settings, payout rollups, and driver
  statements over REST. Handles HTTP request/response and JSON, and
  delegates all cycle and settlement math to the core engine packages.

ENDPOINTS:
  Drivers:
    GET    /api/drivers                    List drivers
    POST   /api/drivers                    Register driver
    GET    /api/drivers/{id}               Driver details
    DELETE /api/drivers/{id}               Remove driver (and their loads)
    GET    /api/drivers/{id}/statement     Cycle statement for one driver

  Loads:
    POST   /api/loads                      Record a load (local or remote shape)
    GET    /api/loads?driver_id=           Evaluated loads for a cycle
    PUT    /api/loads/{id}/override        Force include/exclude/auto
    DELETE /api/loads/{id}                 Delete a load

  Cycles & settings:
    GET    /api/cycles?count=26            Enumerate recent cycles
    GET    /api/cycles/current             Cycle containing today
    GET    /api/settings                   Cycle configuration
    PUT    /api/settings                   Update cycle configuration

  Payouts:
    GET    /api/payouts?cycle_end=         Multi-driver rollup for a cycle
    GET    /api/snapshots?driver_id=       Recorded cycle snapshots

REQUEST FLOW:
  1. Parse request and query parameters
  2. Load the settings row and resolve the cycle (explicit, never ambient)
  3. Fetch driver/load snapshot from the store
  4. Run the engine (cycle.Resolve, settlement.Evaluate/Rollup)
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid input
  - 404: resource not found
  - 500: store failures
  Engine calls themselves never fail; malformed dates and numbers have
  already degraded during normalization.

SEE ALSO:
  - dto.go: request/response structures and the load normalization adapter
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/settlement"
	"github.com/haulpay/settlement-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store
	Log   zerolog.Logger

	// Now supplies the wall clock for "current cycle" defaults. Overridable
	// in tests; the engine itself never reads a clock.
	Now func() time.Time
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Store: store,
		Log:   log,
		Now:   time.Now,
	}
}

// cycleContext resolves the settings row plus the cycle to display:
// the one containing cycle_end when given, otherwise the current one.
func (h *Handler) cycleContext(r *http.Request) (cycle.Cycle, sqlite.Settings, error) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		return cycle.Cycle{}, sqlite.Settings{}, err
	}

	ref := h.Now()
	if raw := r.URL.Query().Get("cycle_end"); raw != "" {
		if t := parseInstant(raw); t != nil {
			ref = *t
		}
	}
	return settings.Schedule().Resolve(ref), settings, nil
}

// =============================================================================
// DRIVER HANDLERS
// =============================================================================

// ListDrivers returns all drivers.
func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.Store.ListDrivers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list drivers", err)
		return
	}

	dtos := make([]DriverDTO, len(drivers))
	for i, d := range drivers {
		dtos[i] = toDriverDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDriver returns a single driver.
func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.Store.GetDriver(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get driver", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Driver not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDriverDTO(*d))
}

// CreateDriver registers a new driver.
func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req CreateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Driver name is required", nil)
		return
	}

	d := settlement.Driver{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Email:              req.Email,
		Lease:              toDecimal(req.Lease),
		DefaultDispatchPct: toDecimal(req.DefaultDispatchPct),
		CreatedAt:          h.Now().UTC(),
	}
	if err := h.Store.SaveDriver(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create driver", err)
		return
	}

	h.Log.Info().Str("driver_id", d.ID).Str("name", d.Name).Msg("driver registered")
	writeJSON(w, http.StatusCreated, toDriverDTO(d))
}

// DeleteDriver removes a driver and, by cascade, their loads.
func (h *Handler) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteDriver(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete driver", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// LOAD HANDLERS
// =============================================================================

// CreateLoad records a load. The body may use canonical or remote-source
// field names; both normalize into the same shape.
func (h *Handler) CreateLoad(w http.ResponseWriter, r *http.Request) {
	var rec LoadRecordDTO
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l := rec.Normalize()
	if l.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required", nil)
		return
	}

	d, err := h.Store.GetDriver(r.Context(), l.DriverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get driver", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Driver not found", nil)
		return
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := h.Store.SaveLoad(r.Context(), l); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save load", err)
		return
	}

	// Echo back the evaluated view for the current cycle so data entry
	// sees the inclusion flags immediately.
	c, settings, err := h.cycleContext(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusCreated,
		toEvaluatedLoadDTO(settlement.Evaluate(l, *d, c, settings.CutoffHour)))
}

// ListLoads returns a driver's loads evaluated against a cycle.
// All loads are returned, not just included ones; the flags tell the
// caller which rows count.
func (h *Handler) ListLoads(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver_id")
	if driverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id query parameter is required", nil)
		return
	}

	d, err := h.Store.GetDriver(r.Context(), driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get driver", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Driver not found", nil)
		return
	}

	c, settings, err := h.cycleContext(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	loads, err := h.Store.ListLoadsByDriver(r.Context(), driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loads", err)
		return
	}

	evaluated := settlement.EvaluateAll(loads, *d, c, settings.CutoffHour)
	dtos := make([]EvaluatedLoadDTO, len(evaluated))
	for i, l := range evaluated {
		dtos[i] = toEvaluatedLoadDTO(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle": toCycleDTO(c),
		"loads": dtos,
	})
}

// SetOverride forces a load in or out of its cycle, or returns it to auto.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, err := h.Store.GetLoad(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get load", err)
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "Load not found", nil)
		return
	}

	override := settlement.ParseOverride(req.Override)
	if err := h.Store.SetOverride(r.Context(), id, override); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set override", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"override": string(override)})
}

// DeleteLoad removes a load.
func (h *Handler) DeleteLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteLoad(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete load", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// CYCLE & SETTINGS HANDLERS
// =============================================================================

// ListCycles enumerates recent cycles, most recent first.
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	count := 26
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 260 {
			count = n
		}
	}
	from := h.Now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t := parseInstant(raw); t != nil {
			from = *t
		}
	}

	cycles := settings.Schedule().List(count, from)
	dtos := make([]CycleDTO, len(cycles))
	for i, c := range cycles {
		dtos[i] = toCycleDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CurrentCycle returns the cycle containing the current time.
func (h *Handler) CurrentCycle(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(settings.Schedule().Resolve(h.Now())))
}

// GetSettings returns the cycle configuration.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		AnchorWeekday: settings.AnchorWeekday,
		BusinessDays:  settings.BusinessDays,
		CutoffHour:    settings.CutoffHour,
	})
}

// UpdateSettings stores new cycle configuration.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BusinessDays < 1 {
		writeError(w, http.StatusBadRequest, "business_days must be >= 1", nil)
		return
	}
	if req.CutoffHour < 0 || req.CutoffHour > 23 {
		writeError(w, http.StatusBadRequest, "cutoff_hour must be between 0 and 23", nil)
		return
	}

	settings := sqlite.Settings{
		// Normalize through the weekday parser so only canonical names persist.
		AnchorWeekday: cycle.WeekdayName(cycle.ParseWeekday(req.AnchorWeekday)),
		BusinessDays:  req.BusinessDays,
		CutoffHour:    req.CutoffHour,
	}
	if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}

	h.Log.Info().
		Str("anchor_weekday", settings.AnchorWeekday).
		Int("business_days", settings.BusinessDays).
		Int("cutoff_hour", settings.CutoffHour).
		Msg("cycle settings updated")
	writeJSON(w, http.StatusOK, SettingsDTO{
		AnchorWeekday: settings.AnchorWeekday,
		BusinessDays:  settings.BusinessDays,
		CutoffHour:    settings.CutoffHour,
	})
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// GetPayouts returns the multi-driver rollup for a cycle. The window fetch
// deliberately queries by delivered_at range only; override-forced loads
// outside the window would contribute zero anyway.
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	resp, _, err := h.buildPayouts(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) buildPayouts(r *http.Request) (PayoutsResponse, cycle.Cycle, error) {
	c, settings, err := h.cycleContext(r)
	if err != nil {
		return PayoutsResponse{}, c, err
	}

	drivers, err := h.Store.ListDrivers(r.Context())
	if err != nil {
		return PayoutsResponse{}, c, err
	}
	loads, err := h.Store.ListLoadsInRange(r.Context(), c.Start, c.End)
	if err != nil {
		return PayoutsResponse{}, c, err
	}

	rows := settlement.Rollup(drivers, loads, c, settings.CutoffHour)
	resp := PayoutsResponse{
		Cycle:      toCycleDTO(c),
		CutoffHour: settings.CutoffHour,
		Rows:       make([]PayoutRowDTO, len(rows)),
		Totals:     PayoutRowDTO{DriverName: "Totals"},
	}
	for i, row := range rows {
		dto := toPayoutRowDTO(row)
		resp.Rows[i] = dto
		resp.Totals.Loads += dto.Loads
		resp.Totals.Gross += dto.Gross
		resp.Totals.Fuel += dto.Fuel
		resp.Totals.Misc += dto.Misc
		resp.Totals.Dispatch += dto.Dispatch
		resp.Totals.Net += dto.Net
		resp.Totals.Lease += dto.Lease
		resp.Totals.Final += dto.Final
	}
	return resp, c, nil
}

// GetDriverStatement returns one driver's evaluated loads and totals for a
// cycle - the driver portal view.
func (h *Handler) GetDriverStatement(w http.ResponseWriter, r *http.Request) {
	resp, _, status, err := h.buildStatement(r)
	if err != nil {
		writeError(w, status, "Failed to build statement", err)
		return
	}
	if status == http.StatusNotFound {
		writeError(w, status, "Driver not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) buildStatement(r *http.Request) (StatementResponse, cycle.Cycle, int, error) {
	id := chi.URLParam(r, "id")

	d, err := h.Store.GetDriver(r.Context(), id)
	if err != nil {
		return StatementResponse{}, cycle.Cycle{}, http.StatusInternalServerError, err
	}
	if d == nil {
		return StatementResponse{}, cycle.Cycle{}, http.StatusNotFound, nil
	}

	c, settings, err := h.cycleContext(r)
	if err != nil {
		return StatementResponse{}, c, http.StatusInternalServerError, err
	}

	loads, err := h.Store.ListLoadsByDriver(r.Context(), id)
	if err != nil {
		return StatementResponse{}, c, http.StatusInternalServerError, err
	}

	evaluated := settlement.EvaluateAll(loads, *d, c, settings.CutoffHour)
	totals := settlement.Aggregate(evaluated, d.Lease)
	totals.DriverID = d.ID
	totals.DriverName = d.Name

	resp := StatementResponse{
		Driver: toDriverDTO(*d),
		Cycle:  toCycleDTO(c),
		Loads:  make([]EvaluatedLoadDTO, 0, len(evaluated)),
		Totals: toPayoutRowDTO(totals),
	}
	for _, l := range evaluated {
		resp.Loads = append(resp.Loads, toEvaluatedLoadDTO(l))
	}
	return resp, c, http.StatusOK, nil
}

// ListSnapshots returns recorded settlement snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListSnapshots(r.Context(), r.URL.Query().Get("driver_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toSnapshotDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
