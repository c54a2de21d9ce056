// Package domain defines the group chat data model: providers, reply
// results, groups with their members and settings, and the persisted
// transcript. Persisted types are mapped with GORM; the rest are plain
// values passed between the provider, coordinator and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles as seen by a provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one immutable turn of a provider's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider identifies one AI backend as resolved from the provider catalog.
// A Provider is resolved once per turn and never mutated afterwards.
//
// Fields:
//   - ID: stable catalog id (e.g. "deepseek").
//   - Family: adapter family used to talk to the endpoint ("openai",
//     "anthropic", "gemini", "wenxin", "qianwen").
//   - APIURL: full endpoint URL.
//   - APIKey: credential; never serialized.
//   - Model, MaxTokens, Temperature: default generation parameters.
//   - Headers: extra request headers sent verbatim.
type Provider struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Family      string            `json:"family"`
	APIURL      string            `json:"api_url"`
	APIKey      string            `json:"-"`
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	Headers     map[string]string `json:"-"`
}

// DisplayName returns Name, or ID when no name is configured.
func (p Provider) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// ReplyStatus is a provider's progress within one reply session.
type ReplyStatus string

const (
	StatusPending    ReplyStatus = "PENDING"
	StatusInProgress ReplyStatus = "IN_PROGRESS"
	StatusCompleted  ReplyStatus = "COMPLETED"
	StatusError      ReplyStatus = "ERROR"
)

// Terminal reports whether s is COMPLETED or ERROR.
func (s ReplyStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ReplyResult is the write-once outcome of one provider within a session.
type ReplyResult struct {
	ProviderID   string        `json:"provider_id"`
	ProviderName string        `json:"provider_name"`
	Success      bool          `json:"success"`
	Text         string        `json:"text,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Retries      int           `json:"retries"`
}

// Status maps the result onto its terminal ReplyStatus.
func (r ReplyResult) Status() ReplyStatus {
	if r.Success {
		return StatusCompleted
	}
	return StatusError
}

// ReplyMode selects how the providers of one turn are invoked.
type ReplyMode string

const (
	ModeSimultaneous ReplyMode = "simultaneous"
	ModeSequential   ReplyMode = "sequential"
)

// Valid reports whether m is a known mode.
func (m ReplyMode) Valid() bool {
	return m == ModeSimultaneous || m == ModeSequential
}

// GroupSettings controls how a group dispatches each user turn.
// It is stored inline on the groups table with a "settings_" prefix.
type GroupSettings struct {
	ReplyMode     ReplyMode `json:"reply_mode"      gorm:"type:varchar(16);not null;default:'simultaneous'"`
	MaxConcurrent int       `json:"max_concurrent"  gorm:"not null"`
	ReplyDelayMS  int       `json:"reply_delay_ms"  gorm:"not null;default:0"`
	SystemPrompt  string    `json:"system_prompt"   gorm:"type:text"`
	HistoryTurns  int       `json:"history_turns"   gorm:"not null"`
	AllowAllReply bool      `json:"allow_all_reply" gorm:"not null"`
}

// DefaultGroupSettings returns the settings applied to new groups.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		ReplyMode:     ModeSimultaneous,
		MaxConcurrent: 5,
		HistoryTurns:  20,
		AllowAllReply: true,
	}
}

// ReplyDelay is the inter-call delay used in sequential mode.
func (s GroupSettings) ReplyDelay() time.Duration {
	return time.Duration(s.ReplyDelayMS) * time.Millisecond
}

// MemberKind distinguishes the human member from AI members.
type MemberKind string

const (
	MemberUser MemberKind = "USER"
	MemberAI   MemberKind = "AI"
)

// Member roles.
const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"
)

// UserMemberID is the id of the single human member of every group.
const UserMemberID = "user"

// AIMemberID returns the member id used for providerID inside a group.
func AIMemberID(providerID string) string { return "ai_" + providerID }

// GroupChat is a named group of one user and N AI members.
//
// Fields:
//   - ID: UUID primary key.
//   - Settings: dispatch settings (embedded columns).
//   - Members: member rows, cascade-deleted with the group.
//   - LastMessage / LastMessageAt: summary of the latest transcript entry.
type GroupChat struct {
	ID            string        `json:"id"          gorm:"type:char(36);primaryKey"`
	Name          string        `json:"name"        gorm:"type:varchar(255);not null"`
	Description   string        `json:"description" gorm:"type:text"`
	Settings      GroupSettings `json:"settings"    gorm:"embedded;embeddedPrefix:settings_"`
	Members       []GroupMember `json:"members"     gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	LastMessage   string        `json:"last_message"    gorm:"type:text"`
	LastMessageAt *time.Time    `json:"last_message_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"index"`
}

// TableName returns the database table name for GroupChat.
func (GroupChat) TableName() string { return "groups" }

// AIMembers returns the active AI members in join order.
func (g *GroupChat) AIMembers() []GroupMember {
	out := make([]GroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Kind == MemberAI && m.Active {
			out = append(out, m)
		}
	}
	return out
}

// Member looks up a member by id.
func (g *GroupChat) Member(id string) (*GroupMember, bool) {
	for i := range g.Members {
		if g.Members[i].ID == id {
			return &g.Members[i], true
		}
	}
	return nil, false
}

// GroupMember is one participant of a group. AI members carry the
// provider id they are backed by. Removed members are kept inactive so
// their transcript entries still resolve.
type GroupMember struct {
	GroupID    string     `json:"group_id"    gorm:"type:char(36);primaryKey"`
	ID         string     `json:"id"          gorm:"type:varchar(96);primaryKey"`
	Name       string     `json:"name"        gorm:"type:varchar(255);not null"`
	Kind       MemberKind `json:"kind"        gorm:"type:varchar(8);not null;check:kind IN ('USER','AI')"`
	ProviderID string     `json:"provider_id,omitempty" gorm:"type:varchar(64)"`
	Role       string     `json:"role"        gorm:"type:varchar(16);not null;default:'member'"`
	Active     bool       `json:"active"      gorm:"not null"`
	JoinedAt   time.Time  `json:"joined_at"`
}

// TableName returns the database table name for GroupMember.
func (GroupMember) TableName() string { return "group_members" }

// SenderKind tags who authored a transcript entry.
type SenderKind string

const (
	SenderUser   SenderKind = "user"
	SenderAI     SenderKind = "ai"
	SenderSystem SenderKind = "system"
)

// EntryKind tags what a transcript entry records.
type EntryKind string

const (
	EntryText     EntryKind = "text"
	EntrySystem   EntryKind = "system"
	EntryJoin     EntryKind = "join"
	EntryLeave    EntryKind = "leave"
	EntrySettings EntryKind = "settings"
)

// TranscriptEntry is one persisted message of a group transcript.
// AI entries are appended empty, grow while the provider streams and are
// frozen once Status becomes terminal.
//
// Fields:
//   - Seq: per-group monotonic ordering key.
//   - ReplyTo: for AI entries, the id of the user entry being answered.
//   - Status: reply status for AI entries, empty otherwise.
//   - Metadata: free-form JSON (sender role, elapsed, retries, error kind).
type TranscriptEntry struct {
	ID         string            `json:"id"          gorm:"type:char(36);primaryKey"`
	GroupID    string            `json:"group_id"    gorm:"type:char(36);not null;index:idx_group_entries,priority:1"`
	Seq        int64             `json:"seq"         gorm:"not null;index:idx_group_entries,priority:2"`
	SenderID   string            `json:"sender_id"   gorm:"type:varchar(96);not null"`
	SenderName string            `json:"sender_name" gorm:"type:varchar(255)"`
	SenderKind SenderKind        `json:"sender_kind" gorm:"type:varchar(8);not null;check:sender_kind IN ('user','ai','system')"`
	Kind       EntryKind         `json:"kind"        gorm:"type:varchar(16);not null;default:'text'"`
	Content    string            `json:"content"     gorm:"type:text;not null"`
	Status     ReplyStatus       `json:"status,omitempty"      gorm:"type:varchar(16)"`
	ProviderID string            `json:"provider_id,omitempty" gorm:"type:varchar(64)"`
	ReplyTo    string            `json:"reply_to,omitempty"    gorm:"type:char(36);index"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TableName returns the database table name for TranscriptEntry.
func (TranscriptEntry) TableName() string { return "transcript_entries" }

// Frozen reports whether the entry can no longer change.
func (e *TranscriptEntry) Frozen() bool {
	return e.SenderKind != SenderAI || e.Status.Terminal()
}

// Reaction is an emoji left by a user on a transcript entry.
// A user can leave each emoji at most once per entry.
type Reaction struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	EntryID   string    `json:"entry_id" gorm:"type:char(36);not null;uniqueIndex:ux_reaction_entry_user_emoji"`
	UserID    string    `json:"user_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_entry_user_emoji"`
	Emoji     string    `json:"emoji"    gorm:"type:varchar(32);not null;uniqueIndex:ux_reaction_entry_user_emoji"`
	CreatedAt time.Time `json:"created_at"`

	Entry TranscriptEntry `json:"-" gorm:"foreignKey:EntryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Reaction.
func (Reaction) TableName() string { return "reactions" }
