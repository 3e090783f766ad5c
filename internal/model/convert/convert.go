// Package convert provides functions to convert GORM models to core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/geochirp/globe-engine/internal/model"
	"github.com/geochirp/globe-engine/pkg/core"
	"gorm.io/datatypes"
)

// MessageToCore converts a stored row back into the record a source would
// deliver. An unreadable author column yields a nil author.
func MessageToCore(m model.MessageRecord) core.RawRecord {
	rec := core.RawRecord{
		ID:        m.ID,
		Text:      m.Text,
		Category:  m.Category,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Author) > 0 {
		var author core.AuthorRef
		if err := json.Unmarshal(m.Author, &author); err == nil {
			rec.Author = &author
		}
	}
	if m.Lat != nil && m.Lon != nil {
		rec.Location = &core.Coordinate{Lat: *m.Lat, Lon: *m.Lon}
	}
	return rec
}

// MessagesToCore converts rows preserving order.
func MessagesToCore(rows []model.MessageRecord) []core.RawRecord {
	out := make([]core.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = MessageToCore(r)
	}
	return out
}

// CoreToMessage converts a record into a row.
func CoreToMessage(rec core.RawRecord) (model.MessageRecord, error) {
	row := model.MessageRecord{
		ID:        rec.ID,
		Text:      rec.Text,
		Category:  rec.Category,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Author != nil {
		raw, err := json.Marshal(rec.Author)
		if err != nil {
			return model.MessageRecord{}, fmt.Errorf("encode author: %w", err)
		}
		row.Author = datatypes.JSON(raw)
		row.AuthorUID = rec.Author.UID
	}
	if rec.Location != nil {
		lat, lon := rec.Location.Lat, rec.Location.Lon
		row.Lat, row.Lon = &lat, &lon
	}
	return row, nil
}
