package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/anupcshan/daytrace/internal/geo"
)

// Provider knows how to ask one reverse-geocoding API about a coordinate
// and how to read its answer.
type Provider interface {
	Name() string
	NewRequest(ctx context.Context, c geo.Coord) (*http.Request, error)
	Decode(body []byte) (GeoResult, error)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Geoapify queries the Geoapify reverse geocoding API.
type Geoapify struct {
	BaseURL       string // defaults to https://api.geoapify.com
	APIKey        string
	WaterKeywords []string
}

func (g *Geoapify) Name() string { return "Geoapify" }

func (g *Geoapify) NewRequest(ctx context.Context, c geo.Coord) (*http.Request, error) {
	base := g.BaseURL
	if base == "" {
		base = "https://api.geoapify.com"
	}
	q := url.Values{}
	q.Set("lat", formatCoord(c.Lat))
	q.Set("lon", formatCoord(c.Lon))
	q.Set("apiKey", g.APIKey)
	q.Set("format", "geojson")

	return http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/geocode/reverse?"+q.Encode(), nil)
}

type geoapifyResponse struct {
	Features []struct {
		Properties geoapifyProperties `json:"properties"`
	} `json:"features"`
}

type geoapifyProperties struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	City     string `json:"city"`
	County   string `json:"county"`
	Country  string `json:"country"`
	Category string `json:"category"`
	Class    string `json:"class"`
}

func (g *Geoapify) Decode(body []byte) (GeoResult, error) {
	var resp geoapifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return GeoResult{}, fmt.Errorf("failed to parse geoapify response: %w", err)
	}
	if len(resp.Features) == 0 {
		return OpenWater(), nil
	}

	props := resp.Features[0].Properties
	place := strings.ToLower(props.Name)
	city := props.City
	if city == "" {
		city = props.County
	}
	return GeoResult{
		State:   props.State,
		City:    city,
		Country: props.Country,
		Place:   place,
		IsWater: (props.Category == "natural" && props.Class == "water") ||
			containsWaterKeyword(place, keywordsOrDefault(g.WaterKeywords)),
	}, nil
}

func keywordsOrDefault(k []string) []string {
	if len(k) == 0 {
		return DefaultWaterKeywords
	}
	return k
}

// Nominatim queries an OpenStreetMap Nominatim server.
type Nominatim struct {
	BaseURL       string // defaults to https://nominatim.openstreetmap.org
	UserAgent     string
	WaterKeywords []string
}

func (n *Nominatim) Name() string { return "Nominatim" }

func (n *Nominatim) NewRequest(ctx context.Context, c geo.Coord) (*http.Request, error) {
	base := n.BaseURL
	if base == "" {
		base = "https://nominatim.openstreetmap.org"
	}
	q := url.Values{}
	q.Set("lat", formatCoord(c.Lat))
	q.Set("lon", formatCoord(c.Lon))
	q.Set("format", "jsonv2")
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// Required by Nominatim ToS
	ua := n.UserAgent
	if ua == "" {
		ua = "daytrace/1.0 (location-history-summaries)"
	}
	req.Header.Set("User-Agent", ua)
	return req, nil
}

// nominatimReply is the part of a jsonv2 reverse response that maps onto a
// GeoResult. Address values are all strings.
type nominatimReply struct {
	Error    string            `json:"error"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Category string            `json:"category"`
	Address  map[string]string `json:"address"`
}

var (
	// Address keys tried for GeoResult.Place when the feature is unnamed.
	nominatimPlaceKeys = []string{"amenity", "shop", "tourism", "leisure", "building", "road", "neighbourhood", "suburb"}
	// Address keys tried for GeoResult.City, finest first.
	nominatimCityKeys = []string{"city", "town", "village", "municipality", "county"}

	nominatimWaterTypes = map[string]bool{
		"water": true, "bay": true, "strait": true, "sea": true, "ocean": true, "coastline": true,
	}
)

func (n *Nominatim) Decode(body []byte) (GeoResult, error) {
	var reply nominatimReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return GeoResult{}, fmt.Errorf("failed to parse nominatim response: %w", err)
	}
	// Nominatim answers "Unable to geocode" for points far from any feature,
	// which in practice means open sea.
	if reply.Error != "" {
		return OpenWater(), nil
	}

	place := strings.ToLower(reply.place())
	return GeoResult{
		State:   reply.Address["state"],
		City:    reply.city(),
		Country: reply.Address["country"],
		Place:   place,
		IsWater: (reply.Category == "natural" && nominatimWaterTypes[reply.Type]) ||
			containsWaterKeyword(place, keywordsOrDefault(n.WaterKeywords)),
	}, nil
}

func (r nominatimReply) city() string {
	for _, k := range nominatimCityKeys {
		if v := r.Address[k]; v != "" {
			return v
		}
	}
	return ""
}

// place names the feature itself, falling back to its street address and
// then to the settlement it lies in.
func (r nominatimReply) place() string {
	if r.Name != "" {
		return r.Name
	}
	for _, k := range nominatimPlaceKeys {
		v := r.Address[k]
		if v == "" || (k == "building" && v == "yes") {
			continue
		}
		if k == "road" && r.Address["house_number"] != "" {
			return r.Address["house_number"] + " " + v
		}
		return v
	}
	return r.city()
}
