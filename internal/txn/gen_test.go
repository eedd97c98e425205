package txn

import (
	"testing"
)

func TestGeneratorDeterminism(t *testing.T) {
	t.Parallel()

	a := NewGenerator(42).Generate(30)
	b := NewGenerator(42).Generate(30)

	if len(a) != 30 || len(b) != 30 {
		t.Fatalf("expected 30 rows, got %d and %d", len(a), len(b))
	}
	for i := range a {
		for _, f := range []string{FieldAmount, FieldTimeOfDay, FieldRandomFeat1} {
			av, _ := a[i].Float(f)
			bv, _ := b[i].Float(f)
			if av != bv {
				t.Errorf("row %d field %s differs across identically seeded generators: %v vs %v", i, f, av, bv)
			}
		}
	}

	c := NewGenerator(7).Generate(30)
	same := true
	for i := range a {
		av, _ := a[i].Float(FieldAmount)
		cv, _ := c[i].Float(FieldAmount)
		if av != cv {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical streams")
	}
}

func TestGeneratorFields(t *testing.T) {
	t.Parallel()

	rows := NewGenerator(1).Generate(100)
	countries := make(map[string]bool)
	for i, r := range rows {
		amount, ok := r.Float(FieldAmount)
		if !ok || amount < 1 || amount > 2000 {
			t.Fatalf("row %d: amount %v outside [1, 2000]", i, r[FieldAmount])
		}
		tod, ok := r.Float(FieldTimeOfDay)
		if !ok || tod < 0 || tod >= 24 {
			t.Fatalf("row %d: time_of_day %v outside [0, 24)", i, r[FieldTimeOfDay])
		}
		hour, ok := r.Float(FieldHour)
		if !ok || int(hour) != int(tod) {
			t.Fatalf("row %d: hour %v does not match time_of_day %v", i, r[FieldHour], tod)
		}
		label, ok := r.Float(FieldLabel)
		if !ok || (label != 0 && label != 1) {
			t.Fatalf("row %d: label %v is not binary", i, r[FieldLabel])
		}
		if s, _ := r.String(FieldCountry); s != "" {
			countries[s] = true
		}
		if !r.Has(FieldMerchant) || !r.Has(FieldDevice) || !r.Has(FieldAvgUserAmount) {
			t.Fatalf("row %d missing required fields: %v", i, r)
		}
	}
	if len(countries) < 3 {
		t.Errorf("expected varied countries in 100 rows, got %v", countries)
	}
}

func TestGenerateUsersRowCount(t *testing.T) {
	t.Parallel()

	rows := NewGenerator(3).GenerateUsers(10, 5)
	if len(rows) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(rows))
	}

	perUser := make(map[int64]int)
	for _, r := range rows {
		id, ok := r.Float(FieldUserID)
		if !ok {
			t.Fatalf("row has no user_id: %v", r)
		}
		perUser[int64(id)]++
	}
	if len(perUser) != 10 {
		t.Fatalf("expected 10 distinct users, got %d", len(perUser))
	}
	for id, n := range perUser {
		if n != 5 {
			t.Errorf("user %d has %d transactions, want 5", id, n)
		}
	}
}

func TestGenerateRowCountTruncation(t *testing.T) {
	t.Parallel()

	if got := NewGenerator(0).Generate(7); len(got) != 7 {
		t.Errorf("Generate(7) returned %d rows", len(got))
	}
	if got := NewGenerator(0).Generate(0); got != nil {
		t.Errorf("Generate(0) should return nil, got %d rows", len(got))
	}
}

func TestTransactionFloatCoercion(t *testing.T) {
	t.Parallel()

	tx := Transaction{
		"f64": float64(1.5),
		"f32": float32(2.5),
		"i":   3,
		"i64": int64(4),
		"str": "nope",
		"nil": nil,
	}

	cases := []struct {
		field string
		want  float64
		ok    bool
	}{
		{"f64", 1.5, true},
		{"f32", 2.5, true},
		{"i", 3, true},
		{"i64", 4, true},
		{"str", 0, false},
		{"nil", 0, false},
		{"absent", 0, false},
	}
	for _, c := range cases {
		got, ok := tx.Float(c.field)
		if ok != c.ok || got != c.want {
			t.Errorf("Float(%q) = (%v, %v), want (%v, %v)", c.field, got, ok, c.want, c.ok)
		}
	}
}

func TestTransactionClone(t *testing.T) {
	t.Parallel()

	orig := Transaction{FieldAmount: 10.0}
	cl := orig.Clone()
	cl[FieldAmount] = 99.0
	cl[FieldHour] = 3

	if v, _ := orig.Float(FieldAmount); v != 10.0 {
		t.Errorf("clone mutated original amount: %v", v)
	}
	if orig.Has(FieldHour) {
		t.Error("clone mutated original keys")
	}
}
