package service

import (
	"math"

	"github.com/shiva/traits/internal/model"
)

// ─── Fare Configuration ─────────────────────────────────────

// FareConfig holds the per-leg pricing parameters. All amounts are cents.
type FareConfig struct {
	BaseFareCents  int64 // Charged once per leg.
	PerMinuteCents int64 // Per minute on the train.
	PerKmCents     int64 // Per straight-line km between boarding and alighting stations.
}

// DefaultFareConfig returns the fallback fares used when nothing is configured.
func DefaultFareConfig() FareConfig {
	return FareConfig{
		BaseFareCents:  250,
		PerMinuteCents: 12,
		PerKmCents:     8,
	}
}

// Pricer estimates the price of a leg. Implementations must never return a
// lower price for a longer ride, and an itinerary costs the sum of its legs,
// so adding a leg never makes it cheaper.
type Pricer interface {
	LegPrice(leg model.Leg) int64
}

// FarePricer is the default Pricer:
//
//	price = base + perMinute × rideMinutes + perKm × distanceKm
type FarePricer struct {
	config FareConfig
}

// NewFarePricer creates a pricer from config. Negative rates are clamped to 0.
func NewFarePricer(config FareConfig) *FarePricer {
	if config.BaseFareCents < 0 {
		config.BaseFareCents = 0
	}
	if config.PerMinuteCents < 0 {
		config.PerMinuteCents = 0
	}
	if config.PerKmCents < 0 {
		config.PerKmCents = 0
	}
	return &FarePricer{config: config}
}

func (p *FarePricer) LegPrice(leg model.Leg) int64 {
	minutes := int64(leg.RideMinutes())
	if minutes < 0 {
		minutes = 0
	}
	distance := int64(math.Round(leg.DistanceKm * float64(p.config.PerKmCents)))
	return p.config.BaseFareCents + minutes*p.config.PerMinuteCents + distance
}
