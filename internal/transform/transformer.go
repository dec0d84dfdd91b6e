// Package transform validates and coerces extracted rows. It is pure and
// deterministic: the same input rows and reference time always produce the
// same records and the same quarantine reasons, which is what makes
// re-running a failed window safe.
package transform

import (
	"time"

	"github.com/streetbite/lakepipe/pkg/models"
	"github.com/streetbite/lakepipe/pkg/utils"
)

// Reasons attached to quarantined records. Stable strings: they feed metric
// labels and downstream alerting.
const (
	ReasonMissingID      = "missing record id"
	ReasonMissingUnit    = "missing unit id"
	ReasonMissingTime    = "missing timestamp"
	ReasonMissingAmount  = "missing amount"
	ReasonMissingMethod  = "missing payment method"
	ReasonUnitOutOfRange = "unit id out of range"
	ReasonTimeOutOfRange = "timestamp out of range"
	ReasonInvalidAmount  = "invalid amount"
	ReasonNegativeAmount = "negative amount"
	ReasonUnknownMethod  = "unknown payment method"
)

// Config bounds the validation checks. The zero value accepts any positive
// unit id and uses the default payment-method aliases.
type Config struct {
	// Cutoff is the historical lower bound for plausible timestamps.
	// Zero disables the lower check.
	Cutoff time.Time
	// MaxUnitID rejects unit ids above the known fleet size when > 0.
	MaxUnitID int64
	// PaymentMethods maps normalized source tokens to canonical names.
	PaymentMethods map[string]string
}

// DefaultPaymentMethods covers the source's numeric method ids and their
// spelled-out forms.
func DefaultPaymentMethods() map[string]string {
	return map[string]string{
		"1":    "cash",
		"2":    "card",
		"cash": "cash",
		"card": "card",
	}
}

// Rejection is a record that failed validation, with every violated
// constraint it accumulated.
type Rejection struct {
	Raw     models.RawRecord
	Reasons []string
}

type Transformer struct {
	cfg     Config
	methods map[string]string
}

func New(cfg Config) *Transformer {
	methods := make(map[string]string, len(cfg.PaymentMethods))
	for token, canonical := range cfg.PaymentMethods {
		methods[utils.NormalizeToken(token)] = canonical
	}
	if len(methods) == 0 {
		methods = DefaultPaymentMethods()
	}
	return &Transformer{cfg: cfg, methods: methods}
}

// Apply validates every raw row against the reference time now (the run's
// snapshot upper bound) and splits the batch into records bound for the
// lake and rejections bound for quarantine. A rejection never aborts the
// batch; relative order of valid records is preserved.
func (t *Transformer) Apply(raws []models.RawRecord, now time.Time) ([]models.Record, []Rejection) {
	var records []models.Record
	var rejections []Rejection

	for _, raw := range raws {
		rec, reasons := t.apply(raw, now)
		if len(reasons) > 0 {
			rejections = append(rejections, Rejection{Raw: raw, Reasons: reasons})
			continue
		}
		records = append(records, rec)
	}
	return records, rejections
}

// apply checks one row, collecting every violated reason in field order so
// repeated runs report identical rejections.
func (t *Transformer) apply(raw models.RawRecord, now time.Time) (models.Record, []string) {
	var rec models.Record
	var reasons []string

	if !raw.ID.Valid {
		reasons = append(reasons, ReasonMissingID)
	} else {
		rec.ID = raw.ID.Int64
	}

	switch {
	case !raw.UnitID.Valid:
		reasons = append(reasons, ReasonMissingUnit)
	case raw.UnitID.Int64 <= 0,
		t.cfg.MaxUnitID > 0 && raw.UnitID.Int64 > t.cfg.MaxUnitID:
		reasons = append(reasons, ReasonUnitOutOfRange)
	default:
		rec.UnitID = raw.UnitID.Int64
	}

	switch {
	case !raw.OccurredAt.Valid:
		reasons = append(reasons, ReasonMissingTime)
	case !t.cfg.Cutoff.IsZero() && raw.OccurredAt.Time.Before(t.cfg.Cutoff),
		raw.OccurredAt.Time.After(now):
		reasons = append(reasons, ReasonTimeOutOfRange)
	default:
		rec.OccurredAt = raw.OccurredAt.Time.UTC()
	}

	if !raw.Amount.Valid {
		reasons = append(reasons, ReasonMissingAmount)
	} else if pence, err := utils.ParsePence(raw.Amount.String); err != nil {
		reasons = append(reasons, ReasonInvalidAmount)
	} else if pence < 0 {
		reasons = append(reasons, ReasonNegativeAmount)
	} else {
		rec.AmountPence = pence
	}

	if !raw.PaymentMethod.Valid {
		reasons = append(reasons, ReasonMissingMethod)
	} else if canonical, ok := t.methods[utils.NormalizeToken(raw.PaymentMethod.String)]; !ok {
		reasons = append(reasons, ReasonUnknownMethod)
	} else {
		rec.PaymentMethod = canonical
	}

	return rec, reasons
}
