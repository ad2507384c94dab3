/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication and the normalization
  adapter that turns incoming load records - locally-entered (camelCase)
  or remotely-fetched (snake_case) - into the canonical settlement.Load.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request / LoadRecordDTO: request body types from clients

COERCION:
  Money and percent fields arrive as JSON numbers or strings. Anything
  non-numeric coerces to zero rather than failing the request; a malformed
  revenue field must never take down a settlement view. Unparseable dates
  normalize to nil, which the engine treats as out-of-window / late.

SEE ALSO:
  - handlers.go: uses these types
  - settlement/types.go: canonical records
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/settlement"
	"github.com/haulpay/settlement-engine/store/sqlite"
)

// =============================================================================
// DRIVER TYPES
// =============================================================================

// DriverDTO represents a driver in API responses.
type DriverDTO struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Email              string  `json:"email,omitempty"`
	Lease              float64 `json:"lease"`
	DefaultDispatchPct float64 `json:"default_dispatch_pct"`
	CreatedAt          string  `json:"created_at,omitempty"`
}

// CreateDriverRequest is the request to register a driver.
// Money fields accept numbers or numeric strings.
type CreateDriverRequest struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Lease              any    `json:"lease"`
	DefaultDispatchPct any    `json:"default_dispatch_pct"`
}

// =============================================================================
// LOAD TYPES
// =============================================================================

// LoadRecordDTO is an incoming load record. It accepts both the canonical
// field names used by local data entry and the snake_case names produced
// by the remote records source, so both paths feed the same engine.
type LoadRecordDTO struct {
	ID       string `json:"id,omitempty"`
	DriverID string `json:"driver_id"`

	DeliveredAt string `json:"deliveredAt,omitempty"`
	BOLAt       string `json:"bolAt,omitempty"`
	DispatchPct any    `json:"dispatchPct,omitempty"`
	Override    string `json:"ownerOverride,omitempty"`
	LoadNo      string `json:"loadNo,omitempty"`

	// Remote-source aliases
	RemoteDeliveredAt string `json:"delivered_at,omitempty"`
	RemoteBOLAt       string `json:"bol_at,omitempty"`
	RemoteDispatchPct any    `json:"dispatch_pct,omitempty"`
	RemoteOverride    string `json:"owner_override,omitempty"`
	RemoteLoadNo      string `json:"load_no,omitempty"`

	Revenue     any    `json:"revenue"`
	Fuel        any    `json:"fuel"`
	Misc        any    `json:"misc"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Normalize converts the record into the canonical Load shape. Canonical
// fields win when both spellings are present.
func (r LoadRecordDTO) Normalize() settlement.Load {
	l := settlement.Load{
		ID:          r.ID,
		DriverID:    r.DriverID,
		DeliveredAt: parseInstant(firstNonEmpty(r.DeliveredAt, r.RemoteDeliveredAt)),
		BOLAt:       parseInstant(firstNonEmpty(r.BOLAt, r.RemoteBOLAt)),
		Revenue:     toDecimal(r.Revenue),
		Fuel:        toDecimal(r.Fuel),
		Misc:        toDecimal(r.Misc),
		LoadNo:      firstNonEmpty(r.LoadNo, r.RemoteLoadNo),
		Origin:      r.Origin,
		Destination: r.Destination,
		Override:    settlement.ParseOverride(firstNonEmpty(r.Override, r.RemoteOverride)),
	}
	if pct, ok := toDecimalOpt(firstNonNil(r.DispatchPct, r.RemoteDispatchPct)); ok {
		l.DispatchPct = &pct
	}
	return l
}

// OverrideRequest sets the operator override on a load.
type OverrideRequest struct {
	Override string `json:"override"` // auto | include | exclude
}

// EvaluatedLoadDTO is a load with its eligibility flags and fee math.
type EvaluatedLoadDTO struct {
	ID           string  `json:"id"`
	DriverID     string  `json:"driver_id"`
	DeliveredAt  string  `json:"delivered_at,omitempty"`
	BOLAt        string  `json:"bol_at,omitempty"`
	LoadNo       string  `json:"load_no,omitempty"`
	Origin       string  `json:"origin,omitempty"`
	Destination  string  `json:"destination,omitempty"`
	Revenue      float64 `json:"revenue"`
	Fuel         float64 `json:"fuel"`
	Misc         float64 `json:"misc"`
	DispatchPct  float64 `json:"dispatch_pct"`
	DispatchFee  float64 `json:"dispatch_fee"`
	Net          float64 `json:"net"`
	InWindow     bool    `json:"in_window"`
	Late         bool    `json:"late"`
	AutoIncluded bool    `json:"auto_included"`
	Included     bool    `json:"included"`
	Override     string  `json:"override,omitempty"`
}

// =============================================================================
// CYCLE / SETTINGS TYPES
// =============================================================================

// CycleDTO represents one settlement window.
type CycleDTO struct {
	Start   string `json:"cycle_start"`
	End     string `json:"cycle_end"`
	PayDate string `json:"pay_date"`
}

// SettingsDTO is the cycle configuration.
type SettingsDTO struct {
	AnchorWeekday string `json:"anchor_weekday"`
	BusinessDays  int    `json:"business_days"`
	CutoffHour    int    `json:"cutoff_hour"`
}

// =============================================================================
// PAYOUT TYPES
// =============================================================================

// PayoutRowDTO is one driver's totals for a cycle.
type PayoutRowDTO struct {
	DriverID   string  `json:"driver_id,omitempty"`
	DriverName string  `json:"driver_name"`
	Loads      int     `json:"loads"`
	Gross      float64 `json:"gross"`
	Fuel       float64 `json:"fuel"`
	Misc       float64 `json:"misc"`
	Dispatch   float64 `json:"dispatch"`
	Net        float64 `json:"net"`
	Lease      float64 `json:"lease"`
	Final      float64 `json:"final"`
}

// PayoutsResponse is the multi-driver rollup for one cycle.
type PayoutsResponse struct {
	Cycle      CycleDTO       `json:"cycle"`
	CutoffHour int            `json:"cutoff_hour"`
	Rows       []PayoutRowDTO `json:"rows"`
	Totals     PayoutRowDTO   `json:"totals"`
}

// StatementResponse is a single driver's cycle statement.
type StatementResponse struct {
	Driver DriverDTO          `json:"driver"`
	Cycle  CycleDTO           `json:"cycle"`
	Loads  []EvaluatedLoadDTO `json:"loads"`
	Totals PayoutRowDTO       `json:"totals"`
}

// SnapshotDTO is one recorded per-driver settlement.
type SnapshotDTO struct {
	ID         string       `json:"id"`
	DriverID   string       `json:"driver_id"`
	CycleStart string       `json:"cycle_start"`
	CycleEnd   string       `json:"cycle_end"`
	PayDate    string       `json:"pay_date"`
	Totals     PayoutRowDTO `json:"totals"`
	CreatedAt  string       `json:"created_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toDriverDTO(d settlement.Driver) DriverDTO {
	dto := DriverDTO{
		ID:                 d.ID,
		Name:               d.Name,
		Email:              d.Email,
		Lease:              decToFloat(d.Lease),
		DefaultDispatchPct: decToFloat(d.DefaultDispatchPct),
	}
	if !d.CreatedAt.IsZero() {
		dto.CreatedAt = d.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toCycleDTO(c cycle.Cycle) CycleDTO {
	return CycleDTO{
		Start:   c.Start.Format(time.RFC3339),
		End:     c.End.Format(time.RFC3339),
		PayDate: c.PayDate.Format(time.RFC3339),
	}
}

func toEvaluatedLoadDTO(l settlement.EvaluatedLoad) EvaluatedLoadDTO {
	dto := EvaluatedLoadDTO{
		ID:           l.ID,
		DriverID:     l.DriverID,
		LoadNo:       l.LoadNo,
		Origin:       l.Origin,
		Destination:  l.Destination,
		Revenue:      decToFloat(l.Revenue),
		Fuel:         decToFloat(l.Fuel),
		Misc:         decToFloat(l.Misc),
		DispatchPct:  decToFloat(l.ResolvedPct),
		DispatchFee:  decToFloat(l.DispatchFee),
		Net:          decToFloat(l.Net),
		InWindow:     l.InWindow,
		Late:         l.Late,
		AutoIncluded: l.AutoIncluded,
		Included:     l.Included,
		Override:     string(l.Override),
	}
	if l.DeliveredAt != nil {
		dto.DeliveredAt = l.DeliveredAt.Format(time.RFC3339)
	}
	if l.BOLAt != nil {
		dto.BOLAt = l.BOLAt.Format(time.RFC3339)
	}
	return dto
}

func toPayoutRowDTO(t settlement.Totals) PayoutRowDTO {
	return PayoutRowDTO{
		DriverID:   t.DriverID,
		DriverName: t.DriverName,
		Loads:      t.Loads,
		Gross:      decToFloat(t.Gross),
		Fuel:       decToFloat(t.Fuel),
		Misc:       decToFloat(t.Misc),
		Dispatch:   decToFloat(t.Dispatch),
		Net:        decToFloat(t.Net),
		Lease:      decToFloat(t.Lease),
		Final:      decToFloat(t.Final),
	}
}

func toSnapshotDTO(rec sqlite.SnapshotRecord) SnapshotDTO {
	return SnapshotDTO{
		ID:         rec.ID,
		DriverID:   rec.DriverID,
		CycleStart: rec.CycleStart.Format(time.RFC3339),
		CycleEnd:   rec.CycleEnd.Format(time.RFC3339),
		PayDate:    rec.PayDate.Format(time.RFC3339),
		Totals:     toPayoutRowDTO(rec.Totals),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// toDecimal coerces a JSON value (number, numeric string, or nothing) to a
// decimal, defaulting to zero.
func toDecimal(v any) decimal.Decimal {
	d, _ := toDecimalOpt(v)
	return d
}

// toDecimalOpt reports whether a usable numeric value was present.
func toDecimalOpt(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case string:
		if x == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, true // present but malformed: coerce to 0
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// Timestamp layouts accepted from clients, tried in order.
var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseInstant parses a client timestamp, returning nil when missing or
// unparseable. Layouts without a zone are read in server-local time, the
// same clock the cutoff hour is defined against.
func parseInstant(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range instantLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonNil(a, b any) any {
	if a != nil {
		return a
	}
	return b
}
