package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&MessageRecord{},
	&EngineSample{},
}

////////////////////////
// MESSAGES
////////////////////////

// MessageRecord is a stored message document. Columns mirror the fields a
// source may omit, so a stored row can still be rejected on read.
type MessageRecord struct {
	ID        string         `json:"id" gorm:"primaryKey;size:64"`
	Text      *string        `json:"text" gorm:"size:1024"`
	Category  *string        `json:"category" gorm:"size:64"`
	AuthorUID string         `json:"authorUid" gorm:"size:128;index:idx_messages_author_created,priority:1"`
	Author    datatypes.JSON `json:"author"`
	Lat       *float64       `json:"lat"`
	Lon       *float64       `json:"lon"`
	CreatedAt time.Time      `json:"createdAt" gorm:"index:idx_messages_created;index:idx_messages_author_created,priority:2"`
}

func (*MessageRecord) TableName() string {
	return "messages"
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// EngineSample is a periodic snapshot of engine counters.
type EngineSample struct {
	Time          time.Time `json:"time" gorm:"index:idx_engine_samples_time"`
	Session       string    `json:"session" gorm:"size:64"`
	CacheSize     int       `json:"cacheSize"`
	Rejected      int       `json:"rejected"`
	ViewSize      int       `json:"viewSize"`
	Markers       int       `json:"markers"`
	ReadCount     int       `json:"readCount"`
	QueueLength   int       `json:"queueLength"`
	FramesPending int       `json:"framesPending"`
}

func (*EngineSample) TableName() string {
	return "engine_samples"
}
