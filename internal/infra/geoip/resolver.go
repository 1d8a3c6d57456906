package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// Resolver answers coarse IP geolocation from a local MaxMind database. A
// lookup failure is an error, never a guess; callers degrade to neutral.
type Resolver struct {
	reader *geoip2.Reader
	logger *zap.Logger
}

// NewResolver opens the MaxMind database at the supplied path.
func NewResolver(mmdbPath string, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reader, err := geoip2.Open(mmdbPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	logger.Info("GeoIP database loaded", zap.String("path", mmdbPath))

	return &Resolver{reader: reader, logger: logger}, nil
}

// Resolve maps an IP address to country and coordinates.
func (r *Resolver) Resolve(_ context.Context, ip string) (*port.GeoLocation, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip address: %q", ip)
	}

	city, err := r.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip city lookup: %w", err)
	}

	return &port.GeoLocation{
		CountryCode: city.Country.IsoCode,
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
	}, nil
}

// Close releases the underlying database handle.
func (r *Resolver) Close() error {
	return r.reader.Close()
}

var _ port.GeoResolver = (*Resolver)(nil)
