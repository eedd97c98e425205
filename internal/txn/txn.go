// Package txn defines the transaction record scored and explained by the
// service, plus the synthetic generator used for demos and for building
// background samples for the sampling explainer.
package txn

// Transaction is one payment event as submitted by the caller. Fields are
// kept as a loose mapping because the preprocessing pipeline looks them up
// by column name and callers may omit derived columns.
type Transaction map[string]any

// Well-known field names shared between the generator, the pipeline and
// the API layer.
const (
	FieldUserID         = "user_id"
	FieldAmount         = "amount"
	FieldCountry        = "country"
	FieldDevice         = "device"
	FieldMerchant       = "merchant"
	FieldTimeOfDay      = "time_of_day"
	FieldAvgUserAmount  = "avg_user_amount"
	FieldAmountAvgRatio = "amount_to_avg_ratio"
	FieldRandomFeat1    = "random_feat1"
	FieldHour           = "hour"
	FieldLabel          = "label"
)

// Float returns the named field coerced to float64. JSON decoding and the
// generator produce a mix of float64, int and int64 values, so all numeric
// kinds are accepted.
func (t Transaction) Float(name string) (float64, bool) {
	v, ok := t[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String returns the named field coerced to string.
func (t Transaction) String(name string) (string, bool) {
	v, ok := t[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether the field is present with a non-nil value.
func (t Transaction) Has(name string) bool {
	v, ok := t[name]
	return ok && v != nil
}

// Clone returns a shallow copy so callers can augment a transaction with
// derived fields without mutating the submitted record.
func (t Transaction) Clone() Transaction {
	c := make(Transaction, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}
