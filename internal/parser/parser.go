package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/internal/util"
	"github.com/geochirp/globe-engine/pkg/core"
)

// ErrRejected marks a record that failed validation. Rejected records are
// dropped from the view; they never fail the snapshot they arrived in.
var ErrRejected = errors.New("record rejected")

var (
	ErrMissingID       = fmt.Errorf("%w: missing id", ErrRejected)
	ErrMissingText     = fmt.Errorf("%w: missing text", ErrRejected)
	ErrTextTooLong     = fmt.Errorf("%w: text too long", ErrRejected)
	ErrMissingLocation = fmt.Errorf("%w: missing location", ErrRejected)
	ErrInvalidLocation = fmt.Errorf("%w: non-finite location", ErrRejected)
)

// Rejection pairs a dropped record id with the reason.
type Rejection struct {
	ID  string
	Err error
}

// Parser provides pure RawRecord -> core.Message conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger        *slog.Logger
	maxTextLength int
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger:        logger,
		maxTextLength: core.MaxTextLength,
	}
}

// Normalize converts a record for the spatial view. Records without text or
// without a public location are rejected. The source record is not modified.
func (p *Parser) Normalize(raw core.RawRecord) (core.Message, error) {
	msg, err := p.NormalizeListing(raw)
	if err != nil {
		return core.Message{}, err
	}
	if raw.Location == nil {
		return core.Message{}, ErrMissingLocation
	}
	return msg, nil
}

// NormalizeListing applies the same rules as Normalize except the location
// requirement, for contexts that do not place messages on the globe.
func (p *Parser) NormalizeListing(raw core.RawRecord) (core.Message, error) {
	if util.IsBlank(raw.ID) {
		return core.Message{}, ErrMissingID
	}
	if raw.Text == nil || util.IsBlank(*raw.Text) {
		return core.Message{}, ErrMissingText
	}
	if util.RuneLen(*raw.Text) > p.maxTextLength {
		return core.Message{}, ErrTextTooLong
	}
	// public coordinates are not clamped, but NaN and Inf cannot be placed or encoded
	if raw.Location != nil && !geo.Finite(*raw.Location) {
		return core.Message{}, ErrInvalidLocation
	}

	msg := core.Message{
		ID:        raw.ID,
		Text:      *raw.Text,
		Category:  normalizeCategory(raw.Category),
		CreatedAt: raw.CreatedAt,
	}
	if raw.Author != nil {
		msg.Author = *raw.Author
	}
	if raw.Location != nil {
		loc := *raw.Location
		msg.Location = &loc
	}
	return msg, nil
}

// NormalizeBatch normalizes every record, keeping delivery order and
// collecting rejections instead of failing.
func (p *Parser) NormalizeBatch(raws []core.RawRecord) ([]core.Message, []Rejection) {
	msgs := make([]core.Message, 0, len(raws))
	var rejected []Rejection
	for _, raw := range raws {
		msg, err := p.Normalize(raw)
		if err != nil {
			rejected = append(rejected, Rejection{ID: raw.ID, Err: err})
			p.logger.Debug("Dropped record", "id", raw.ID, "reason", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, rejected
}

// DecodeRecords parses a JSON array of records.
func (p *Parser) DecodeRecords(data []byte) ([]core.RawRecord, error) {
	var records []core.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error unmarshalling records: %w", err)
	}
	return records, nil
}

func normalizeCategory(category *string) string {
	if category == nil || util.IsBlank(*category) {
		return core.DefaultCategory
	}
	return strings.ToUpper(strings.TrimSpace(*category))
}
