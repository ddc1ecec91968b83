package chat

import (
	"time"

	"gorm.io/datatypes"
)

type TurnStatus string

const (
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Thread struct {
	ThreadID  string    `gorm:"type:varchar(36);primaryKey" json:"thread_id"`
	UserID    string    `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Title     *string   `gorm:"column:thread_title;type:varchar(255)" json:"title"`
	IsDeleted bool      `gorm:"not null;default:false;index" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Thread) TableName() string { return "conversation_threads" }

type Turn struct {
	TurnID      string     `gorm:"type:varchar(36);primaryKey" json:"turn_id"`
	ThreadID    string     `gorm:"type:varchar(36);index;not null" json:"thread_id"`
	UserMessage string     `gorm:"type:text;not null" json:"user_message"`
	Status      TurnStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
}

func (Turn) TableName() string { return "conversation_turns" }

type Message struct {
	MessageID string         `gorm:"type:varchar(36);primaryKey" json:"message_id"`
	ThreadID  string         `gorm:"type:varchar(36);index:idx_chat_msg_thread_created,priority:1;not null" json:"-"`
	TurnID    string         `gorm:"type:varchar(36);index;not null" json:"turn_id"`
	Role      string         `gorm:"type:varchar(16);not null" json:"role"`
	Message   string         `gorm:"type:text;not null" json:"content"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index:idx_chat_msg_thread_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Thread{}, &Turn{}, &Message{}}
}
