// Package pricing estimates fares. Rates are decimal to keep the
// per-km arithmetic exact; results are floored to integer minor units
// before they ever reach the ledger.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ridewell/ridewell/internal/model"
)

// Rates for one request kind, in minor units of the platform currency.
type Rates struct {
	BaseFare     decimal.Decimal
	PerKilometre decimal.Decimal
	Minimum      decimal.Decimal
}

// DefaultRates mirror the launch pricing sheet.
func DefaultRates(kind model.Kind) Rates {
	if kind == model.KindRide {
		return Rates{
			BaseFare:     decimal.NewFromInt(250),
			PerKilometre: decimal.NewFromInt(120),
			Minimum:      decimal.NewFromInt(500),
		}
	}
	return Rates{
		BaseFare:     decimal.NewFromInt(200),
		PerKilometre: decimal.NewFromInt(90),
		Minimum:      decimal.NewFromInt(350),
	}
}

// Estimator turns a pickup/dropoff pair into an estimated fare.
type Estimator struct {
	rates func(model.Kind) Rates
}

func NewEstimator() *Estimator {
	return &Estimator{rates: DefaultRates}
}

// Estimate returns the fare in minor units. The estimate is informative
// only; nothing is reserved against the wallet until settlement.
func (e *Estimator) Estimate(kind model.Kind, pickup, dropoff model.Location) int64 {
	r := e.rates(kind)
	km := decimal.NewFromFloat(HaversineKm(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon))
	fare := r.BaseFare.Add(r.PerKilometre.Mul(km))
	if fare.LessThan(r.Minimum) {
		fare = r.Minimum
	}
	return fare.Floor().IntPart()
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
