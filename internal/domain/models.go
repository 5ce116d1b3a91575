// Package domain defines the persistence models for users, quota requests,
// chats and messages, plus the UI message shapes exchanged with the browser.
// The models are mapped with GORM and form the data layer of the service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles accepted by the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// User is an account created by the external auth provider. The service
// only reads it.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255)"`
	Email     string    `json:"email"      gorm:"type:varchar(255);index"`
	Image     string    `json:"image"      gorm:"type:text"`
	IsAdmin   bool      `json:"is_admin"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Request is one quota-consuming chat call. Rows are inserted once and
// never updated.
type Request struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"   gorm:"type:varchar(64);not null;index:idx_user_requests,priority:1"`
	Timestamp time.Time `json:"timestamp" gorm:"column:requested_at;not null;index:idx_user_requests,priority:2"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// Chat represents a conversation owned by exactly one user. Title and
// UpdatedAt change on every turn; the owner never does.
type Chat struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null;default:'New Chat'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is one turn within a chat. The whole set for a chat is replaced
// on every save, so Order is contiguous and 0-indexed.
//
// Parts holds the JSON encoding of []Part (text and tool-invocation blocks).
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_position,priority:1"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant','tool')"`
	Parts     datatypes.JSON `json:"parts"      gorm:"not null"`
	Order     int            `json:"order"      gorm:"column:position;not null;uniqueIndex:ux_chat_position,priority:2"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
