package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

// EntityType names a kind of domain entity that actions can target.
type EntityType string

// Entity types.
const (
	EntityTask    EntityType = "task"
	EntityProject EntityType = "project"
	EntityGoal    EntityType = "goal"
	EntityJournal EntityType = "journal"
	EntityMemory  EntityType = "memory"
	EntityFile    EntityType = "file"
)

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{
	EntityTask, EntityProject, EntityGoal, EntityJournal, EntityMemory, EntityFile,
}

// MentionableTypes lists the entity types that carry short codes and can be
// referenced as type#code in text.
var MentionableTypes = []EntityType{
	EntityTask, EntityProject, EntityGoal, EntityJournal, EntityMemory,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, k := range EntityTypes {
		if k == t {
			return true
		}
	}
	return false
}

// AllocatesShortCode reports whether entities of this type receive a
// per-user short code on creation.
func (t EntityType) AllocatesShortCode() bool {
	return t.Valid() && t != EntityFile
}

// Plural returns the URL path segment for the type.
func (t EntityType) Plural() string {
	switch t {
	case EntityJournal:
		return "journal"
	case EntityMemory:
		return "memories"
	default:
		return string(t) + "s"
	}
}

// ParseEntityType converts a case-insensitive name into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidEntityType
	}
	return t, nil
}

// Summary is the display form of an entity used by mention resolution.
type Summary struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

// Entity is implemented by every domain entity struct.
type Entity interface {
	EntityID() string
	OwnerID() string
	Kind() EntityType
	Summary() Summary
}

// Task statuses.
const (
	TaskBacklog    = "backlog"
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

// Task domains.
const (
	DomainWork   = "work"
	DomainSide   = "side"
	DomainChores = "chores"
	DomainLife   = "life"
)

// Board scopes for scheduled tasks.
const (
	ScopeDay     = "day"
	ScopeWeek    = "week"
	ScopeMonth   = "month"
	ScopeQuarter = "quarter"
)

var (
	validTaskStatuses = map[string]bool{TaskBacklog: true, TaskTodo: true, TaskInProgress: true, TaskDone: true}
	validDomains      = map[string]bool{DomainWork: true, DomainSide: true, DomainChores: true, DomainLife: true}
	validBoardScopes  = map[string]bool{ScopeDay: true, ScopeWeek: true, ScopeMonth: true, ScopeQuarter: true}
)

// ValidDomain reports whether d is a known task domain.
func ValidDomain(d string) bool { return validDomains[d] }

// Task is a unit of work owned by a user.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	Domain       string     `json:"domain,omitempty"`
	Priority     int        `json:"priority"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	BoardScope   string     `json:"boardScope,omitempty"`
	ProjectID    string     `json:"projectId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (t *Task) EntityID() string { return t.ID }
func (t *Task) OwnerID() string { return t.UserID }
func (t *Task) Kind() EntityType { return EntityTask }
func (t *Task) Summary() Summary { return Summary{Title: t.Title, Status: t.Status} }

// Project statuses and types.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"

	ProjectSide     = "side_project"
	ProjectLearning = "learning"
	ProjectLife     = "life"
)

var (
	validProjectStatuses = map[string]bool{ProjectActive: true, ProjectCompleted: true, ProjectArchived: true}
	validProjectTypes    = map[string]bool{ProjectSide: true, ProjectLearning: true, ProjectLife: true}
)

// Project groups tasks toward an outcome.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Goals       string    `json:"goals,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p *Project) EntityID() string { return p.ID }
func (p *Project) OwnerID() string { return p.UserID }
func (p *Project) Kind() EntityType { return EntityProject }
func (p *Project) Summary() Summary { return Summary{Title: p.Name, Status: p.Status} }

// Goal statuses and horizons.
const (
	GoalActive    = "active"
	GoalAchieved  = "achieved"
	GoalAbandoned = "abandoned"

	HorizonMonth   = "month"
	HorizonQuarter = "quarter"
	HorizonYear    = "year"
	HorizonLife    = "life"
)

var (
	validGoalStatuses = map[string]bool{GoalActive: true, GoalAchieved: true, GoalAbandoned: true}
	validHorizons     = map[string]bool{HorizonMonth: true, HorizonQuarter: true, HorizonYear: true, HorizonLife: true}
)

// Goal is a longer-horizon objective.
type Goal struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Horizon     string    `json:"horizon"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (g *Goal) EntityID() string { return g.ID }
func (g *Goal) OwnerID() string { return g.UserID }
func (g *Goal) Kind() EntityType { return EntityGoal }
func (g *Goal) Summary() Summary { return Summary{Title: g.Title, Status: g.Status} }

// JournalEntry is a dated free-text entry.
type JournalEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	AIAnalysis string    `json:"aiAnalysis,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (j *JournalEntry) EntityID() string { return j.ID }
func (j *JournalEntry) OwnerID() string { return j.UserID }
func (j *JournalEntry) Kind() EntityType { return EntityJournal }
func (j *JournalEntry) Summary() Summary { return Summary{Title: TruncateTitle(j.Content)} }

// Memory is a fact the assistant keeps about the user, optionally anchored
// to a page of the application.
type Memory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	AnchorPath string    `json:"anchorPath,omitempty"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (m *Memory) EntityID() string { return m.ID }
func (m *Memory) OwnerID() string { return m.UserID }
func (m *Memory) Kind() EntityType { return EntityMemory }
func (m *Memory) Summary() Summary { return Summary{Title: TruncateTitle(m.Content)} }

// File is an attachment whose bytes live in an ObjectStore.
type File struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AttachedTo  string    `json:"attachedTo,omitempty"`
	AttachedID  string    `json:"attachedId,omitempty"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mimeType,omitempty"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (f *File) EntityID() string { return f.ID }
func (f *File) OwnerID() string { return f.UserID }
func (f *File) Kind() EntityType { return EntityFile }
func (f *File) Summary() Summary { return Summary{Title: f.Filename} }

// Task link types.
const (
	LinkBlocks  = "blocks"
	LinkRelated = "related"
	LinkSubtask = "subtask"
)

var validLinkTypes = map[string]bool{LinkBlocks: true, LinkRelated: true, LinkSubtask: true}

// TaskLink relates two tasks of the same user.
type TaskLink struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TaskAID   string    `json:"taskAId"`
	TaskBID   string    `json:"taskBId"`
	LinkType  string    `json:"linkType"`
	CreatedAt time.Time `json:"createdAt"`
}

// titleLimit is the number of characters of free text kept in a title.
const titleLimit = 50

// TruncateTitle shortens free text to a display title.
func TruncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= titleLimit {
		return s
	}
	r := []rune(s)
	return string(r[:titleLimit]) + "..."
}
