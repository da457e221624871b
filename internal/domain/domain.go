// Package domain holds the shared data model: workspaces, documents, chunks,
// nodes, ACL entries, conversations and audit events. Types here are plain
// structs, undecorated by any ORM.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can read a workspace's contents absent ACL or
// ownership.
type Visibility string

const (
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityOrgRead  Visibility = "ORG_READ"
	VisibilityShared   Visibility = "SHARED"
)

// FTSLanguage is the workspace's configured full-text-search regconfig.
// Anything outside the allowlist falls back to Spanish.
type FTSLanguage string

const (
	FTSSpanish FTSLanguage = "spanish"
	FTSEnglish FTSLanguage = "english"
	FTSSimple  FTSLanguage = "simple"
)

// Normalize returns l if it is in the allowlist, else the default (Spanish).
func (l FTSLanguage) Normalize() FTSLanguage {
	switch l {
	case FTSSpanish, FTSEnglish, FTSSimple:
		return l
	default:
		return FTSSpanish
	}
}

// Role is an actor's system-wide principal kind.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
	RoleService  Role = "SERVICE"
)

// ACLRole is a per-workspace grant level, distinct from the system-wide Role.
type ACLRole string

const (
	ACLViewer ACLRole = "VIEWER"
	ACLEditor ACLRole = "EDITOR"
)

// rank orders ACL roles so callers can express "at least EDITOR" without
// re-deriving the ordering at each call site.
var aclRank = map[ACLRole]int{ACLViewer: 1, ACLEditor: 2}

// AtLeast reports whether r grants at least the privileges of min.
func (r ACLRole) AtLeast(min ACLRole) bool {
	return aclRank[r] >= aclRank[min]
}

// DocumentStatus is a node in the async-processor state machine.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusReady      DocumentStatus = "READY"
	StatusFailed     DocumentStatus = "FAILED"
)

// Workspace is the isolation boundary for all data and retrieval.
type Workspace struct {
	ID          uuid.UUID
	Name        string
	OwnerUserID string
	Visibility  Visibility
	FTSLanguage FTSLanguage
	ArchivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Archived reports whether the workspace is read-only.
func (w *Workspace) Archived() bool { return w.ArchivedAt != nil }

// Document is a unit of ingested content within a workspace.
type Document struct {
	ID                    uuid.UUID
	WorkspaceID           uuid.UUID
	Title                 string
	Status                DocumentStatus
	ContentHash           *string // 64-hex, nil if unset
	FileName              string
	MimeType              string
	StorageKey            string
	Tags                  map[string]struct{}
	AllowedRoles          map[string]struct{} // empty => defer to workspace ACL
	ExternalSourceID      *string
	ExternalETag          *string
	ExternalModifiedTime  *time.Time
	ErrorMessage          *string // set when Status == StatusFailed
	CreatedAt             time.Time
	DeletedAt             *time.Time
}

// EmbeddingDimension is the single global vector width every chunk and node
// embedding must satisfy.
const EmbeddingDimension = 768

// Chunk is the atomic retrieval unit: a passage with its own embedding.
type Chunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	ChunkIndex  int
	Content     string
	Embedding   []float32
	Metadata    map[string]any
}

// Node is a coarse grouping of consecutive chunks used for 2-tier retrieval.
type Node struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	DocumentID  uuid.UUID
	NodeIndex   int
	NodeText    string
	Embedding   []float32
	SpanStart   int
	SpanEnd     int
}

// ACLEntry grants a user a role within a SHARED workspace.
type ACLEntry struct {
	WorkspaceID uuid.UUID
	UserID      string
	Role        ACLRole
	GrantedBy   string
	CreatedAt   time.Time
}

// Actor is the identity performing an action against the core.
type Actor struct {
	UserID string // empty for SERVICE principals without a human owner
	Role   Role
}

// ConversationRole distinguishes user vs assistant turns.
type ConversationRole string

const (
	ConversationUser      ConversationRole = "user"
	ConversationAssistant ConversationRole = "assistant"
)

// ConversationMessage is one turn in a bounded conversation ring buffer.
type ConversationMessage struct {
	Role    ConversationRole
	Content string
}

// AuditEvent is an append-only record of a core action.
type AuditEvent struct {
	ID        uuid.UUID
	Actor     string
	Action    string
	TargetID  string
	Metadata  map[string]any
	CreatedAt time.Time
}
