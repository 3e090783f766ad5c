// pkg/core/message.go
package core

import "time"

// DefaultCategory is applied when a record carries no category.
const DefaultCategory = "GENERAL"

// MaxTextLength is the longest message text accepted, in runes.
const MaxTextLength = 280

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" cbor:"lat"`
	Lon float64 `json:"lon" cbor:"lon"`
}

// RawLocationReading is a precise sensor coordinate. It is only ever used to
// derive a public coordinate and is never stored or transmitted.
type RawLocationReading Coordinate

// AuthorRef identifies the author of a message. Any field may be empty.
type AuthorRef struct {
	UID         string `json:"uid,omitempty" cbor:"uid,omitempty"`
	DisplayName string `json:"displayName,omitempty" cbor:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty" cbor:"avatarUrl,omitempty"`
}

// RawRecord is a message document as delivered by a data source.
type RawRecord struct {
	ID        string      `json:"id" cbor:"id"`
	Text      *string     `json:"text,omitempty" cbor:"text,omitempty"`
	Category  *string     `json:"category,omitempty" cbor:"category,omitempty"`
	Author    *AuthorRef  `json:"author,omitempty" cbor:"author,omitempty"`
	Location  *Coordinate `json:"location,omitempty" cbor:"location,omitempty"`
	CreatedAt time.Time   `json:"createdAt" cbor:"createdAt"`
}

// Message is a normalized, immutable message.
type Message struct {
	ID        string
	Text      string
	Category  string
	Author    AuthorRef
	Location  *Coordinate // public (obfuscated) location
	CreatedAt time.Time
}

// AnnotatedMessage is one entry of the derived view.
type AnnotatedMessage struct {
	Message
	IsNearby bool
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
