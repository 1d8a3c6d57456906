package port

import "context"

// GeoLocation is the answer from the geolocation collaborator for one IP.
type GeoLocation struct {
	CountryCode string
	Latitude    float64
	Longitude   float64
}

// GeoResolver resolves an IP address to a coarse geolocation. Implementations
// return ErrGeoUnavailable-style errors rather than guessing; the risk scorer
// treats unresolvable IPs as neutral.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*GeoLocation, error)
}
