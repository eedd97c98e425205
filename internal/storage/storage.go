// Package storage provides persistent storage for recently scored
// transactions. It uses BoltDB as the underlying engine and keeps a
// bounded window of records for the dashboard's list, filter and summary
// views.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"fraudlens/internal/txn"
)

const scoredBucket = "scored"

// DefaultRetention bounds how many scored transactions are kept.
const DefaultRetention = 2000

// ScoredTransaction is one transaction together with its fraud score.
type ScoredTransaction struct {
	Tx    txn.Transaction `json:"tx"`
	Score float64         `json:"score"`
	Label int             `json:"label"`
	Ts    time.Time       `json:"ts"`
}

// Filter narrows and orders Recent results.
type Filter struct {
	UserID    *int64
	Merchant  string
	SortBy    string // "score", "amount" or "hour"; empty keeps newest-first
	SortOrder string // "asc" or "desc" (default)
}

// MerchantCount is one entry of the top-fraud-merchants summary.
type MerchantCount struct {
	Merchant string `json:"merchant"`
	Count    int    `json:"count"`
}

// HourCount is the fraud count for one hour of day.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// FraudSplit is the fraud vs non-fraud count pair of the summary.
type FraudSplit struct {
	Fraud    int `json:"fraud"`
	NonFraud int `json:"nonfraud"`
}

// Summary aggregates the stored window for charting.
type Summary struct {
	FraudVsNonFraud FraudSplit      `json:"fraud_vs_nonfraud"`
	TopMerchants    []MerchantCount `json:"top_5_fraud_merchants"`
	FraudsPerHour   []HourCount     `json:"frauds_per_hour"`
	Total           int             `json:"total_transactions"`
}

// Store provides bounded persistent storage for scored transactions.
type Store struct {
	db     *bbolt.DB
	retain int
}

// New opens the store at the given data path. retain <= 0 selects the
// default retention window.
func New(dataPath string, retain int) (*Store, error) {
	if retain <= 0 {
		retain = DefaultRetention
	}
	dbPath := filepath.Join(dataPath, "fraudlens-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(scoredBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create scored bucket: %w", err)
	}

	return &Store{db: db, retain: retain}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores one scored transaction and prunes the oldest records beyond
// the retention window. Keys are zero-padded timestamps so bucket order
// is insertion order.
func (s *Store) Put(rec ScoredTransaction) error {
	if rec.Ts.IsZero() {
		rec.Ts = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoredBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal scored transaction: %w", err)
		}
		key := fmt.Sprintf("%020d", rec.Ts.UnixNano())
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		return s.prune(b, []byte(key))
	})
}

// prune deletes the oldest records beyond the retention window. The key
// just written is never deleted.
func (s *Store) prune(b *bbolt.Bucket, latest []byte) error {
	count := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		count++
	}
	for count > s.retain {
		k, _ := c.First()
		if k == nil || bytes.Equal(k, latest) {
			break
		}
		if err := b.Delete(k); err != nil {
			return err
		}
		count--
	}
	return nil
}

// Recent returns a page of stored transactions, newest first unless the
// filter asks for a different ordering, plus the total count of records
// matching the filter.
func (s *Store) Recent(limit, offset int, f Filter) ([]ScoredTransaction, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var items []ScoredTransaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoredBucket))
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec ScoredTransaction
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // skip malformed records
			}
			if !matches(rec, f) {
				continue
			}
			items = append(items, rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	applySort(items, f)

	total := len(items)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

// Summary aggregates the stored window: fraud vs non-fraud counts, the
// five merchants with the most fraud, and frauds per hour of day.
func (s *Store) Summary() (Summary, error) {
	merchantCounts := make(map[string]int)
	hourCounts := make(map[int]int)
	sum := Summary{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoredBucket))
		return b.ForEach(func(_, v []byte) error {
			var rec ScoredTransaction
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			sum.Total++
			if rec.Label != 1 {
				sum.FraudVsNonFraud.NonFraud++
				return nil
			}
			sum.FraudVsNonFraud.Fraud++
			if m, ok := rec.Tx.String(txn.FieldMerchant); ok && m != "" {
				merchantCounts[m]++
			}
			if h, ok := rec.Tx.Float(txn.FieldHour); ok {
				hourCounts[int(h)]++
			}
			return nil
		})
	})
	if err != nil {
		return Summary{}, err
	}

	for m, c := range merchantCounts {
		sum.TopMerchants = append(sum.TopMerchants, MerchantCount{Merchant: m, Count: c})
	}
	sort.Slice(sum.TopMerchants, func(i, j int) bool {
		if sum.TopMerchants[i].Count != sum.TopMerchants[j].Count {
			return sum.TopMerchants[i].Count > sum.TopMerchants[j].Count
		}
		return sum.TopMerchants[i].Merchant < sum.TopMerchants[j].Merchant
	})
	if len(sum.TopMerchants) > 5 {
		sum.TopMerchants = sum.TopMerchants[:5]
	}

	sum.FraudsPerHour = make([]HourCount, 24)
	for h := 0; h < 24; h++ {
		sum.FraudsPerHour[h] = HourCount{Hour: h, Count: hourCounts[h]}
	}
	return sum, nil
}

func matches(rec ScoredTransaction, f Filter) bool {
	if f.UserID != nil {
		id, ok := rec.Tx.Float(txn.FieldUserID)
		if !ok || int64(id) != *f.UserID {
			return false
		}
	}
	if f.Merchant != "" {
		m, _ := rec.Tx.String(txn.FieldMerchant)
		if !strings.EqualFold(m, f.Merchant) {
			return false
		}
	}
	return true
}

func applySort(items []ScoredTransaction, f Filter) {
	var key func(ScoredTransaction) float64
	switch f.SortBy {
	case "score":
		key = func(r ScoredTransaction) float64 { return r.Score }
	case "amount":
		key = func(r ScoredTransaction) float64 { v, _ := r.Tx.Float(txn.FieldAmount); return v }
	case "hour":
		key = func(r ScoredTransaction) float64 { v, _ := r.Tx.Float(txn.FieldHour); return v }
	default:
		return
	}
	asc := f.SortOrder == "asc"
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return key(items[i]) < key(items[j])
		}
		return key(items[i]) > key(items[j])
	})
}
