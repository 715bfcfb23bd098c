package deadletter

import "time"

// NotProcessedMessage is a delivery that exhausted its attempts.
type NotProcessedMessage struct {
	ID            uint    `gorm:"primaryKey"`
	Queue         string  `gorm:"size:255;index"`
	Payload       string  `gorm:"type:text;not null"`
	Error         *string `gorm:"size:255"`
	ConsumerClass *string `gorm:"size:255"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (NotProcessedMessage) TableName() string {
	return "not_processed_messages"
}
