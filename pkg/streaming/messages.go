package streaming

import (
	"encoding/json"

	"github.com/geochirp/globe-engine/pkg/core"
)

// Feed protocol message types (engine <-> feed server).
const (
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
	TypeSnapshot      = "snapshot"
	TypePublish       = "publish"
	TypeProfileQuery  = "profile_query"
	TypeProfileResult = "profile_result"
	TypeAck           = "ack"
)

// Render protocol message types (engine <-> globe clients).
const (
	TypeFrame              = "frame"
	TypeMarkerActivate     = "marker_activate"
	TypeBackgroundActivate = "background_activate"
	TypeDetailClose        = "detail_close"
	TypeProfileRequest     = "profile_request"
	TypeProfileDismiss     = "profile_dismiss"
	TypeSearch             = "search"
	TypeCamera             = "camera"
	TypePicking            = "picking"
	TypeLocationPicked     = "location_picked"
	TypeCompose            = "compose"
	TypeComposeResult      = "compose_result"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BinaryEnvelope is the CBOR form of Envelope used on binary frames.
type BinaryEnvelope struct {
	Type    string `cbor:"type"`
	Payload []byte `cbor:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SubscribePayload opens a snapshot subscription.
type SubscribePayload struct {
	Window int `json:"window"`
}

// SnapshotPayload carries a full replacement window, newest first.
type SnapshotPayload struct {
	Records []core.RawRecord `json:"records" cbor:"records"`
}

// ProfileQueryPayload asks for recent records of one author.
type ProfileQueryPayload struct {
	RequestID string `json:"requestId"`
	UID       string `json:"uid"`
	Limit     int    `json:"limit"`
}

// ProfileResultPayload answers a ProfileQueryPayload.
type ProfileResultPayload struct {
	RequestID string           `json:"requestId"`
	Records   []core.RawRecord `json:"records"`
	Error     string           `json:"error,omitempty"`
}

// IDPayload carries a single message id.
type IDPayload struct {
	ID string `json:"id"`
}

// AuthorPayload carries an author reference.
type AuthorPayload struct {
	Author core.AuthorRef `json:"author"`
}

// SearchPayload carries the search text.
type SearchPayload struct {
	Query string `json:"query"`
}

// CameraPayload reports the current camera altitude.
type CameraPayload struct {
	Altitude float64 `json:"altitude"`
}

// PickingPayload toggles location-picking mode.
type PickingPayload struct {
	Enabled bool `json:"enabled"`
}

// LocationPayload carries a coordinate picked on the globe.
type LocationPayload struct {
	Location core.Coordinate `json:"location"`
}

// ComposePayload asks the engine to publish a new message.
type ComposePayload struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// ComposeResultPayload answers a ComposePayload.
type ComposeResultPayload struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
