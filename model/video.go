// Package model defines database models
package model

// Video is the durable record of one ingested video. It's created once the
// payload is fully written and never mutated afterwards
type Video struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id" dynamodbav:"id"`
	Filename string `gorm:"not null" json:"filename" dynamodbav:"filename"` // Original declared name, may repeat across records

	// Server internal locator of the payload. Keyed by ID so uploads with the
	// same filename never overwrite each other. Never sent to clients
	StorageKey string `gorm:"not null;uniqueIndex" json:"-" dynamodbav:"storageKey"`

	ContentType string `json:"contentType" dynamodbav:"contentType"`
	Size        int64  `json:"size" dynamodbav:"size"`
	Checksum    string `json:"checksum" dynamodbav:"checksum"`                                              // Hex encoded sha256 of the payload
	CreatedAt   int64  `gorm:"not null;index;autoCreateTime:milli" json:"createdAt" dynamodbav:"createdAt"` // Unix milliseconds
}
