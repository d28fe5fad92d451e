package policeapi

import (
	"context"
	"net/url"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// decodeEach decodes every record into T, skipping and logging the ones that
// do not fit. ok is false when the fetch produced no data.
func decodeEach[T any](log *zap.Logger, kind string, raw []json.RawMessage) ([]T, bool) {
	if raw == nil {
		return nil, false
	}
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			log.Warn("skipping undecodable record",
				zap.String("kind", kind),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		out = append(out, v)
	}
	return out, true
}

func decodeFirst[T any](log *zap.Logger, kind string, raw []json.RawMessage) (*T, bool) {
	items, ok := decodeEach[T](log, kind, raw)
	if !ok || len(items) == 0 {
		return nil, false
	}
	return &items[0], true
}

func monthQuery(month string) url.Values {
	return url.Values{"date": {month}}
}

func areaQuery(poly, month string) url.Values {
	return url.Values{"poly": {poly}, "date": {month}}
}

// LastUpdated returns the date the upstream data was last refreshed, as sent.
func (c *Client) LastUpdated(ctx context.Context) (string, bool) {
	lu, ok := decodeFirst[LastUpdated](c.log, "crime-last-updated", c.Fetch(ctx, "crime-last-updated", nil))
	if !ok || !lu.Date.IsSet() {
		return "", false
	}
	return lu.Date.String(), true
}

// CrimeCategories lists the crime categories valid for month (YYYY-MM).
func (c *Client) CrimeCategories(ctx context.Context, month string) ([]CrimeCategory, bool) {
	return decodeEach[CrimeCategory](c.log, "crime-category", c.Fetch(ctx, "crime-categories", monthQuery(month)))
}

// LocateNeighbourhood finds the force and neighbourhood covering point ("lat,lng").
func (c *Client) LocateNeighbourhood(ctx context.Context, point string) (*Located, bool) {
	return decodeFirst[Located](c.log, "locate-neighbourhood",
		c.Fetch(ctx, "locate-neighbourhood", url.Values{"q": {point}}))
}

// Force fetches the detail of one force.
func (c *Client) Force(ctx context.Context, id string) (*Force, bool) {
	return decodeFirst[Force](c.log, "force", c.Fetch(ctx, "forces/"+url.PathEscape(id), nil))
}

// ForceNeighbourhoods lists the neighbourhoods of a force.
func (c *Client) ForceNeighbourhoods(ctx context.Context, force string) ([]NeighbourhoodRef, bool) {
	return decodeEach[NeighbourhoodRef](c.log, "neighbourhood-ref",
		c.Fetch(ctx, url.PathEscape(force)+"/neighbourhoods", nil))
}

// Neighbourhood fetches the detail of one neighbourhood.
func (c *Client) Neighbourhood(ctx context.Context, force, id string) (*Neighbourhood, bool) {
	return decodeFirst[Neighbourhood](c.log, "neighbourhood",
		c.Fetch(ctx, url.PathEscape(force)+"/"+url.PathEscape(id), nil))
}

// Boundary fetches the vertices of a neighbourhood boundary, in order.
func (c *Client) Boundary(ctx context.Context, force, id string) ([]LatLng, bool) {
	return decodeEach[LatLng](c.log, "boundary-point",
		c.Fetch(ctx, url.PathEscape(force)+"/"+url.PathEscape(id)+"/boundary", nil))
}

// StreetCrimes lists all street-level crimes inside poly during month.
func (c *Client) StreetCrimes(ctx context.Context, poly, month string) ([]Crime, bool) {
	return decodeEach[Crime](c.log, "crime", c.Fetch(ctx, "crimes-street/all-crime", areaQuery(poly, month)))
}

// Outcomes lists the case outcomes inside poly during month.
func (c *Client) Outcomes(ctx context.Context, poly, month string) ([]Outcome, bool) {
	return decodeEach[Outcome](c.log, "outcome", c.Fetch(ctx, "outcomes-at-location", areaQuery(poly, month)))
}

// Stops lists the stop-and-search events inside poly during month.
func (c *Client) Stops(ctx context.Context, poly, month string) ([]Stop, bool) {
	return decodeEach[Stop](c.log, "stop", c.Fetch(ctx, "stops-street", areaQuery(poly, month)))
}
