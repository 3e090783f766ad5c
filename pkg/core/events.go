// pkg/core/events.go
package core

import "time"

// ZoomRequest asks the render surface to move the camera.
type ZoomRequest struct {
	Target   Coordinate    `json:"target"`
	Altitude float64       `json:"altitude"`
	Duration time.Duration `json:"duration"`
}

// MarkerActivation is posted when a marker icon is activated.
type MarkerActivation struct {
	ID string
}

// ProfileResult carries the outcome of a profile fetch back to the event loop.
type ProfileResult struct {
	Token    uint64
	Author   AuthorRef
	Messages []Message
	Err      error
}

// Snapshot is a full replacement set of records from the data source.
type Snapshot struct {
	Records    []RawRecord
	ReceivedAt time.Time
}
