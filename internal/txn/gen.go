package txn

import (
	"math"
	"math/rand"
	"sync"
)

// Reference vocabularies for the synthetic stream. These match the
// categories the deployed pipeline was fitted on.
var (
	Countries          = []string{"IN", "US", "GB", "CA", "AU", "DE", "FR", "NG", "BR"}
	countryWeights     = []float64{30, 20, 10, 8, 6, 5, 5, 8, 8}
	MerchantCategories = []string{"electronics", "grocery", "fashion", "travel", "gaming", "utilities"}
	DeviceTypes        = []string{"mobile", "desktop", "tablet"}
)

// HighRiskCountries flag a raised base fraud rate in the simulation.
var HighRiskCountries = map[string]bool{"NG": true, "BR": true}

// Generator produces synthetic labeled transactions. It is safe for
// concurrent use; the underlying source is locked per draw.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducible streams.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

type userProfile struct {
	userID          int64
	avgAmount       float64
	fraudPropensity float64
}

// Generate returns rowCount synthetic transactions, cycling through fresh
// user profiles every few rows the way real traffic interleaves users.
func (g *Generator) Generate(rowCount int) []Transaction {
	const txPerUser = 3
	if rowCount <= 0 {
		return nil
	}
	users := (rowCount + txPerUser - 1) / txPerUser
	rows := g.GenerateUsers(users, txPerUser)
	return rows[:rowCount]
}

// GenerateUsers produces txPerUser transactions for each of nUsers
// synthetic users.
func (g *Generator) GenerateUsers(nUsers, txPerUser int) []Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows := make([]Transaction, 0, nUsers*txPerUser)
	for u := 0; u < nUsers; u++ {
		p := g.newProfile(int64(u))
		for i := 0; i < txPerUser; i++ {
			rows = append(rows, g.simulate(p))
		}
	}
	return rows
}

func (g *Generator) newProfile(id int64) userProfile {
	avg := math.Max(5, g.rng.ExpFloat64()*50)
	// Most users carry a near-zero fraud propensity with a thin tail.
	prop := math.Min(0.6, g.rng.ExpFloat64()*0.025)
	return userProfile{userID: id, avgAmount: avg, fraudPropensity: prop}
}

func (g *Generator) simulate(p userProfile) Transaction {
	amount := clamp(g.rng.NormFloat64()*p.avgAmount*0.8+p.avgAmount, 1, 2000)
	country := g.weightedCountry()
	device := DeviceTypes[g.rng.Intn(len(DeviceTypes))]
	merchant := MerchantCategories[g.rng.Intn(len(MerchantCategories))]
	timeOfDay := g.rng.Float64() * 24

	base := p.fraudPropensity
	if amount > p.avgAmount*8 {
		base += 0.35
	}
	if HighRiskCountries[country] {
		base += 0.15
	}
	if device == "desktop" && amount < 5 {
		base += 0.05
	}
	if merchant == "gaming" && amount > 100 {
		base += 0.05
	}

	label := 0
	if g.rng.Float64() < base {
		label = 1
	}

	return Transaction{
		FieldUserID:         p.userID,
		FieldAmount:         round2(amount),
		FieldCountry:        country,
		FieldDevice:         device,
		FieldMerchant:       merchant,
		FieldTimeOfDay:      timeOfDay,
		FieldAvgUserAmount:  round2(p.avgAmount),
		FieldAmountAvgRatio: amount / (p.avgAmount + 1e-6),
		FieldRandomFeat1:    g.rng.Float64(),
		FieldHour:           int(timeOfDay),
		FieldLabel:          label,
	}
}

func (g *Generator) weightedCountry() string {
	total := 0.0
	for _, w := range countryWeights {
		total += w
	}
	r := g.rng.Float64() * total
	for i, w := range countryWeights {
		r -= w
		if r < 0 {
			return Countries[i]
		}
	}
	return Countries[len(Countries)-1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
