package models

import "time"

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	ChannelTypeText  = "text"
	ChannelTypeVoice = "voice"
)

type User struct {
	ID          int64  `json:"id,string"`
	Email       string `json:"email,omitempty"`
	UserName    string `json:"userName,omitempty"`
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture"`
}

type Server struct {
	ID      int64  `json:"id,string"`
	OwnerID int64  `json:"ownerID,string"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type Member struct {
	ServerID int64  `json:"serverID,string"`
	UserID   int64  `json:"userID,string"`
	Role     string `json:"role"`
	Since    int64  `json:"since"`
}

type Channel struct {
	ID          int64  `json:"id,string"`
	ServerID    int64  `json:"serverID,string"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Message is either a channel message (ChannelID set, RecipientID nil) or a
// direct message (ChannelID nil, RecipientID set). User carries the joined
// author projection for client consumption.
type Message struct {
	ID          int64  `json:"id,string"`
	ChannelID   *int64 `json:"channelID,string,omitempty"`
	UserID      int64  `json:"userID,string"`
	RecipientID *int64 `json:"recipientID,string,omitempty"`
	Content     string `json:"content"`
	ImageURL    string `json:"imageUrl,omitempty"`
	User        User   `json:"user"`
}

// DmConversation stores the canonical pair, User1ID < User2ID.
type DmConversation struct {
	ID      int64 `json:"id,string"`
	User1ID int64 `json:"user1ID,string"`
	User2ID int64 `json:"user2ID,string"`
}

// ConversationView is one entry of a user's conversation list: the other
// participant plus an optional last message preview.
type ConversationView struct {
	ID          int64  `json:"id,string"`
	Other       User   `json:"other"`
	LastMessage string `json:"lastMessage,omitempty"`
}

type Invite struct {
	ID        int64      `json:"id,string"`
	Code      string     `json:"code"`
	ServerID  int64      `json:"serverID,string"`
	CreatedBy int64      `json:"createdBy,string"`
	MaxUses   *int       `json:"maxUses,omitempty"` // nil = unlimited
	UsedCount int        `json:"usedCount"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"` // nil = never
	CreatedAt int64      `json:"createdAt"`
}

// InvitePreview is the public pre-join view of an invite, no auth needed.
type InvitePreview struct {
	Code        string `json:"code"`
	ServerName  string `json:"serverName"`
	ServerImage string `json:"serverImage"`
	MemberCount int    `json:"memberCount"`
}

type ConfigFile struct {
	Address           string
	Port              string
	BehindNginx       bool
	TlsCert           string
	TlsKey            string
	Cors              bool
	PrintHttpRequests bool
	LogToFile         bool
	LogLevel          string
	JwtSecret         string
	IdentitySecret    string
	SnowflakeWorkerID int64
	SelfContained     bool
	DbUser            string
	DbPassword        string
	DbAddress         string
	DbPort            string
	DbDatabase        string
	RedisAddress      string
	RedisPassword     string
}
