package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/balandzin/Weather-API/internal/models"
)

// StaticSource always reports the same coordinate.
type StaticSource struct {
	Coordinate models.Coordinate
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Locate(ctx context.Context) (models.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinate{}, err
	}
	return s.Coordinate, nil
}

// DefaultIPURL is an ip-api.com compatible lookup for the caller's public address.
const DefaultIPURL = "http://ip-api.com/json/?fields=status,message,lat,lon"

// IPSource approximates the position from the public IP address.
type IPSource struct {
	URL        string
	HTTPClient *http.Client
}

// NewIPSource returns an IPSource for url (DefaultIPURL if empty).
func NewIPSource(url string, timeout time.Duration) *IPSource {
	if url == "" {
		url = DefaultIPURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IPSource{URL: url, HTTPClient: &http.Client{Timeout: timeout}}
}

func (s *IPSource) Name() string { return "ip" }

type ipLookup struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (s *IPSource) Locate(ctx context.Context) (models.Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("build ip lookup request: %w", err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("ip lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Coordinate{}, fmt.Errorf("ip lookup: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("read ip lookup: %w", err)
	}
	var out ipLookup
	if err := json.Unmarshal(body, &out); err != nil {
		return models.Coordinate{}, fmt.Errorf("decode ip lookup: %w", err)
	}
	if out.Status != "" && out.Status != "success" {
		return models.Coordinate{}, fmt.Errorf("ip lookup: %s %s", out.Status, out.Message)
	}
	if out.Lat == nil || out.Lon == nil {
		return models.Coordinate{}, errors.New("ip lookup: missing lat/lon")
	}
	return models.Coordinate{Latitude: *out.Lat, Longitude: *out.Lon}, nil
}

// GeocodeFunc resolves an address. geocoder.Geocoding satisfies it.
type GeocodeFunc func(geocoder.Address) (geocoder.Location, error)

// GeocodeSource resolves a fixed postal address through the Google geocoding API.
type GeocodeSource struct {
	Address geocoder.Address
	geocode GeocodeFunc
}

// NewGeocodeSource installs apiKey for the geocoder package and returns a source
// for the given address parts.
func NewGeocodeSource(apiKey, street, city, state, country string) *GeocodeSource {
	if apiKey != "" {
		geocoder.ApiKey = apiKey
	}
	return &GeocodeSource{
		Address: geocoder.Address{
			Street:  street,
			City:    city,
			State:   state,
			Country: country,
		},
		geocode: geocoder.Geocoding,
	}
}

func (s *GeocodeSource) Name() string { return "geocode" }

func (s *GeocodeSource) Locate(ctx context.Context) (models.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinate{}, err
	}
	if strings.TrimSpace(s.Address.City+s.Address.Street+s.Address.Country) == "" {
		return models.Coordinate{}, errors.New("geocode: empty address")
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := s.geocode(s.Address)
		done <- result{loc, err}
	}()

	select {
	case <-ctx.Done():
		return models.Coordinate{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return models.Coordinate{}, fmt.Errorf("geocode %q: %w", s.Address.City, r.err)
		}
		return models.Coordinate{Latitude: r.loc.Latitude, Longitude: r.loc.Longitude}, nil
	}
}
