package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/repository"
)

const (
	driversGeoKey       = "drivers:geo"
	driversAvailableKey = "drivers:available"
)

// Matcher tracks driver presence and positions in Redis and filters
// the pool of open requests a driver may see. Geospatial scoring
// beyond a radius search is out of scope; assignment legality is
// decided by the lifecycle's conditional updates, not here.
type Matcher struct {
	rdb      *redis.Client
	store    repository.Store
	radiusKm float64
	log      *zap.Logger
}

func NewMatcher(rdb *redis.Client, store repository.Store, radiusKm float64, log *zap.Logger) *Matcher {
	return &Matcher{rdb: rdb, store: store, radiusKm: radiusKm, log: log}
}

func (m *Matcher) MarkAvailable(ctx context.Context, driverID uuid.UUID) error {
	return m.rdb.SAdd(ctx, driversAvailableKey, driverID.String()).Err()
}

func (m *Matcher) MarkBusy(ctx context.Context, driverID uuid.UUID) error {
	return m.rdb.SRem(ctx, driversAvailableKey, driverID.String()).Err()
}

func (m *Matcher) UpdatePosition(ctx context.Context, driverID uuid.UUID, lat, lon float64) error {
	return m.rdb.GeoAdd(ctx, driversGeoKey, &redis.GeoLocation{
		Name:      driverID.String(),
		Latitude:  lat,
		Longitude: lon,
	}).Err()
}

// NearbyDrivers returns the available drivers within the configured
// radius of a point.
func (m *Matcher) NearbyDrivers(ctx context.Context, lat, lon float64) ([]uuid.UUID, error) {
	names, err := m.rdb.GeoSearch(ctx, driversGeoKey, &redis.GeoSearchQuery{
		Latitude:   lat,
		Longitude:  lon,
		Radius:     m.radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	var drivers []uuid.UUID
	for _, name := range names {
		available, err := m.rdb.SIsMember(ctx, driversAvailableKey, name).Result()
		if err != nil {
			return nil, err
		}
		if !available {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			m.log.Warn("skipping malformed driver id in geo index", zap.String("member", name))
			continue
		}
		drivers = append(drivers, id)
	}
	return drivers, nil
}

// OpenRequests lists the PENDING requests visible to an available
// driver, oldest first.
func (m *Matcher) OpenRequests(ctx context.Context, kind model.Kind) ([]model.Request, error) {
	return m.store.Q().ListOpenRequests(ctx, kind)
}
