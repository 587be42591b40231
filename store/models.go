package store

// messageRow mirrors original_source/message_store.py's offline_messages
// table: the Message's own fields, with Data and Path JSON-encoded into
// text columns since gorm v1 has no native JSON column type for sqlite.
type messageRow struct {
	ID           int64  `gorm:"column:id;primary_key;AUTO_INCREMENT"`
	PeerID       string `gorm:"column:peer_id;not null"`
	TargetUserID string `gorm:"column:target_user_id;not null;index"`
	MessageType  string `gorm:"column:message_type;not null"`
	Data         string `gorm:"column:data;not null"`
	TimeStamp    float64 `gorm:"column:time_stamp"`
	MessageID    string `gorm:"column:message_id;unique_index;not null"`
	HopCount     int    `gorm:"column:hop_count"`
	Path         string `gorm:"column:path"`
}

func (messageRow) TableName() string { return "offline_messages" }

// scheduleRow mirrors original_source/message_store.py's schedule_messages
// table, a one-to-one companion keyed by message_id (spec.md §4.4, §6).
type scheduleRow struct {
	MessageID  string   `gorm:"column:message_id;primary_key"`
	LastTried  *float64 `gorm:"column:last_tried"`
	RetryCount int      `gorm:"column:retry_count"`
	ExpiryTime float64  `gorm:"column:expiry_time"`
}

func (scheduleRow) TableName() string { return "schedule_messages" }
