package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Metrics is the fixed snapshot shape every provider fills in. Fields a
// provider cannot compute stay nil and serialize as null.
type Metrics struct {
	Date               time.Time `json:"date"`
	Revenue            *float64  `json:"revenue"`
	BurnRate           *float64  `json:"burnRate"`
	Runway             *float64  `json:"runway"`
	Fundraising        *float64  `json:"fundraising"`
	UserGrowth         *float64  `json:"userGrowth"`
	RetentionRate      *float64  `json:"retentionRate"`
	ChurnRate          *float64  `json:"churnRate"`
	NetPromoterScore   *float64  `json:"netPromoterScore"`
	MonthlyActiveUsers *float64  `json:"monthlyActiveUsers"`
	NewFeatures        *float64  `json:"newFeatures"`
	AdoptionRate       *float64  `json:"adoptionRate"`
	TimeToMarket       *float64  `json:"timeToMarket"`
	ReferralRate       *float64  `json:"referralRate"`
	Demos              *float64  `json:"demos"`
	LeadConversions    *float64  `json:"leadConversions"`
	Commissions        *float64  `json:"commissions"`
}

// NewMetrics returns an empty snapshot dated now
func NewMetrics() *Metrics {
	return &Metrics{Date: time.Now().UTC()}
}

// Float returns a pointer to v, or nil if v is NaN or infinite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = math.Round(v*100) / 100
	return &v
}

// Count is Float for integer counts.
func Count(n int) *float64 {
	return Float(float64(n))
}

// Percent returns part/whole*100, or nil when whole is zero.
func Percent(part, whole float64) *float64 {
	if whole == 0 {
		return nil
	}
	return Float(part / whole * 100)
}

// fields lists the metric fields with their JSON names in declaration order.
func (m *Metrics) fields() []struct {
	name  string
	value *float64
} {
	return []struct {
		name  string
		value *float64
	}{
		{"revenue", m.Revenue},
		{"burnRate", m.BurnRate},
		{"runway", m.Runway},
		{"fundraising", m.Fundraising},
		{"userGrowth", m.UserGrowth},
		{"retentionRate", m.RetentionRate},
		{"churnRate", m.ChurnRate},
		{"netPromoterScore", m.NetPromoterScore},
		{"monthlyActiveUsers", m.MonthlyActiveUsers},
		{"newFeatures", m.NewFeatures},
		{"adoptionRate", m.AdoptionRate},
		{"timeToMarket", m.TimeToMarket},
		{"referralRate", m.ReferralRate},
		{"demos", m.Demos},
		{"leadConversions", m.LeadConversions},
		{"commissions", m.Commissions},
	}
}

// PopulatedFields returns the JSON names of the non-nil fields.
func (m *Metrics) PopulatedFields() []string {
	populated := []string{}
	if m == nil {
		return populated
	}
	for _, f := range m.fields() {
		if f.value != nil {
			populated = append(populated, f.name)
		}
	}
	return populated
}

// Snapshot serializes the metrics for the integrationData column.
func (m *Metrics) Snapshot() (json.RawMessage, error) {
	return json.Marshal(m)
}

// Set assigns a field by its JSON name, case-insensitively.
// Returns false for unknown names.
func (m *Metrics) Set(name string, v *float64) bool {
	targets := map[string]**float64{
		"revenue":            &m.Revenue,
		"burnrate":           &m.BurnRate,
		"runway":             &m.Runway,
		"fundraising":        &m.Fundraising,
		"usergrowth":         &m.UserGrowth,
		"retentionrate":      &m.RetentionRate,
		"churnrate":          &m.ChurnRate,
		"netpromoterscore":   &m.NetPromoterScore,
		"monthlyactiveusers": &m.MonthlyActiveUsers,
		"newfeatures":        &m.NewFeatures,
		"adoptionrate":       &m.AdoptionRate,
		"timetomarket":       &m.TimeToMarket,
		"referralrate":       &m.ReferralRate,
		"demos":              &m.Demos,
		"leadconversions":    &m.LeadConversions,
		"commissions":        &m.Commissions,
	}
	target, ok := targets[strings.ToLower(name)]
	if !ok {
		return false
	}
	*target = v
	return true
}
