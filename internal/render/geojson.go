package render

import (
	"github.com/geochirp/globe-engine/internal/geo"
	geojson "github.com/paulmach/go.geojson"
)

// EncodeFeatures converts the visible markers of f into a GeoJSON feature
// collection, one point per marker in z-order. Each feature also carries its
// Web Mercator position for planar renderers.
func EncodeFeatures(f Frame) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range f.Visible {
		feat := geojson.NewPointFeature([]float64{m.Location.Lon, m.Location.Lat})
		feat.ID = m.ID

		x, y := geo.WebMercator(m.Location)
		feat.SetProperty("mercator", []float64{x, y})
		feat.SetProperty("text", m.Payload.Text)
		feat.SetProperty("category", m.Payload.Category)
		feat.SetProperty("label", m.Payload.LocationLabel)
		feat.SetProperty("authorUid", m.Payload.Author.UID)
		feat.SetProperty("authorName", m.Payload.Author.DisplayName)
		if m.Payload.Author.AvatarURL != "" {
			feat.SetProperty("authorAvatar", m.Payload.Author.AvatarURL)
		}
		feat.SetProperty("selected", m.IsSelected)
		feat.SetProperty("read", m.IsRead)
		feat.SetProperty("nearby", m.IsNearby)
		feat.SetProperty("revision", m.Revision)

		fc.AddFeature(feat)
	}
	return fc
}
