package storage

import (
	"encoding/json"
	"testing"
	"time"

	"fraudlens/internal/txn"
)

func newTestStore(t *testing.T, retain int) *Store {
	t.Helper()
	s, err := New(t.TempDir(), retain)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(user int64, amount float64, merchant string, hour, label int, ts time.Time) ScoredTransaction {
	return ScoredTransaction{
		Tx: txn.Transaction{
			txn.FieldUserID:   user,
			txn.FieldAmount:   amount,
			txn.FieldMerchant: merchant,
			txn.FieldHour:     hour,
		},
		Score: amount / 1000,
		Label: label,
		Ts:    ts,
	}
}

func TestPutAndRecent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		r := rec(int64(i), float64(i*100), "grocery", 10, 0, base.Add(time.Duration(i)*time.Second))
		if err := s.Put(r); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	items, total, err := s.Recent(10, 0, Filter{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if total != 5 || len(items) != 5 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	// Newest first.
	for i := 1; i < len(items); i++ {
		if items[i].Ts.After(items[i-1].Ts) {
			t.Errorf("not newest-first at %d", i)
		}
	}
}

func TestRecentPagination(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 10; i++ {
		if err := s.Put(rec(1, float64(i), "travel", 1, 0, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := s.Recent(3, 4, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || len(page) != 3 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}

	past, total, err := s.Recent(3, 100, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || past != nil {
		t.Errorf("offset past end: total=%d items=%v", total, past)
	}
}

func TestRecentFilters(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	base := time.Now().Add(-time.Minute)
	s.Put(rec(1, 10, "gaming", 2, 1, base))
	s.Put(rec(2, 500, "grocery", 3, 0, base.Add(time.Second)))
	s.Put(rec(1, 90, "GAMING", 4, 1, base.Add(2*time.Second)))

	uid := int64(1)
	items, total, err := s.Recent(10, 0, Filter{UserID: &uid})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("user filter: total=%d", total)
	}

	// Merchant matching is case-insensitive.
	items, total, err = s.Recent(10, 0, Filter{Merchant: "gaming"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("merchant filter: total=%d len=%d", total, len(items))
	}
}

func TestRecentSorting(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	base := time.Now().Add(-time.Minute)
	s.Put(rec(1, 300, "a", 5, 0, base))
	s.Put(rec(2, 100, "b", 1, 0, base.Add(time.Second)))
	s.Put(rec(3, 200, "c", 9, 0, base.Add(2*time.Second)))

	items, _, err := s.Recent(10, 0, Filter{SortBy: "amount", SortOrder: "asc"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(items); i++ {
		prev, _ := items[i-1].Tx.Float(txn.FieldAmount)
		cur, _ := items[i].Tx.Float(txn.FieldAmount)
		if cur < prev {
			t.Errorf("ascending amount sort violated at %d", i)
		}
	}

	items, _, err = s.Recent(10, 0, Filter{SortBy: "score"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			t.Errorf("descending score sort violated at %d", i)
		}
	}
}

func TestRetention(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 5)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 12; i++ {
		if err := s.Put(rec(int64(i), 1, "x", 0, 0, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := s.Recent(100, 0, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(items) != 5 {
		t.Fatalf("retention not enforced: total=%d", total)
	}
	// The survivors are the newest records.
	if id, _ := items[0].Tx.Float(txn.FieldUserID); int(id) != 11 {
		t.Errorf("newest record has user %v, want 11", id)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	base := time.Now().Add(-time.Minute)
	s.Put(rec(1, 10, "gaming", 2, 1, base))
	s.Put(rec(2, 20, "gaming", 2, 1, base.Add(time.Second)))
	s.Put(rec(3, 30, "travel", 5, 1, base.Add(2*time.Second)))
	s.Put(rec(4, 40, "grocery", 9, 0, base.Add(3*time.Second)))

	sum, err := s.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 4 || sum.FraudVsNonFraud.Fraud != 3 || sum.FraudVsNonFraud.NonFraud != 1 {
		t.Fatalf("counts: %+v", sum)
	}
	if len(sum.TopMerchants) == 0 || sum.TopMerchants[0].Merchant != "gaming" || sum.TopMerchants[0].Count != 2 {
		t.Errorf("top merchants: %+v", sum.TopMerchants)
	}
	if len(sum.FraudsPerHour) != 24 {
		t.Fatalf("frauds per hour has %d buckets", len(sum.FraudsPerHour))
	}
	if sum.FraudsPerHour[2].Count != 2 || sum.FraudsPerHour[5].Count != 1 || sum.FraudsPerHour[9].Count != 0 {
		t.Errorf("hour buckets: %+v", sum.FraudsPerHour)
	}

	// The dashboard depends on the nested wire shape.
	data, err := json.Marshal(sum)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	split, ok := wire["fraud_vs_nonfraud"].(map[string]any)
	if !ok {
		t.Fatalf("summary JSON lacks nested fraud_vs_nonfraud: %s", data)
	}
	if split["fraud"] != 3.0 || split["nonfraud"] != 1.0 {
		t.Errorf("fraud_vs_nonfraud = %v", split)
	}
}
