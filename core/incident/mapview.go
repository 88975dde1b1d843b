package incident

import (
	"github.com/golang/geo/s2"
)

// Viewport is the visible map rectangle, degrees.
type Viewport struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

func (vp Viewport) validate() error {
	if vp.LatMin < -90 || vp.LatMax > 90 || vp.LatMin > vp.LatMax {
		return &ValidationError{Field: "lat", Reason: "viewport latitude range invalid"}
	}
	if vp.LonMin < -180 || vp.LonMax > 180 || vp.LonMin > vp.LonMax {
		return &ValidationError{Field: "lon", Reason: "viewport longitude range invalid"}
	}
	return nil
}

// MapMarker is the lightweight projection of an incident for map pins.
type MapMarker struct {
	ID       int64    `json:"id"`
	RegNo    string   `json:"reg_no"`
	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Priority int      `json:"priority"`
}

// MarkersInViewport returns markers for every incident whose coordinates
// fall inside the viewport. Linear scan over the snapshot; the set is
// dashboard-sized and carries no spatial index.
func MarkersInViewport(list []*Incident, vp Viewport) ([]MapMarker, error) {
	if err := vp.validate(); err != nil {
		return nil, err
	}
	rect := s2.RectFromLatLng(s2.LatLngFromDegrees(vp.LatMin, vp.LonMin))
	rect = rect.AddPoint(s2.LatLngFromDegrees(vp.LatMax, vp.LonMax))
	markers := make([]MapMarker, 0, len(list))
	for _, inc := range list {
		if inc == nil {
			continue
		}
		if !rect.ContainsLatLng(s2.LatLngFromDegrees(inc.Location.Lat, inc.Location.Lon)) {
			continue
		}
		markers = append(markers, MapMarker{
			ID:       inc.ID,
			RegNo:    inc.RegNo,
			Type:     inc.Type,
			Severity: inc.Severity,
			Status:   inc.Status,
			Lat:      inc.Location.Lat,
			Lon:      inc.Location.Lon,
			Priority: inc.Priority,
		})
	}
	return markers, nil
}
