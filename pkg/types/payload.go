package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Target identifies the entity an update or delete acts on. Entities that
// carry short codes are targeted by Code; files are targeted by ID.
type Target struct {
	Code int    `json:"code,omitempty"`
	ID   string `json:"id,omitempty"`
}

// IsZero reports whether the target names nothing.
func (t Target) IsZero() bool {
	return t.Code == 0 && t.ID == ""
}

// Payload is the decoded argument set of a write action. The concrete type
// is fixed by the (EntityType, ActionType) pair; see DecodePayload.
type Payload interface {
	Target() Target
	Validate() error
}

// TargetKey returns the tool argument name that carries the target of an
// update or delete for the given entity type.
func TargetKey(t EntityType) string {
	switch t {
	case EntityFile:
		return "fileId"
	case EntityJournal:
		return "journalCode"
	default:
		return string(t) + "Code"
	}
}

// TaskInput creates a task.
type TaskInput struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status,omitempty"`
	Domain       string `json:"domain,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	ScheduledFor string `json:"scheduledFor,omitempty"`
	BoardScope   string `json:"boardScope,omitempty"`
	ProjectCode  int    `json:"projectCode,omitempty"`
}

func (p *TaskInput) Target() Target { return Target{} }

func (p *TaskInput) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return argError("title is required")
	}
	if err := checkEnum("status", p.Status, validTaskStatuses); err != nil {
		return err
	}
	if err := checkEnum("domain", p.Domain, validDomains); err != nil {
		return err
	}
	if err := checkEnum("boardScope", p.BoardScope, validBoardScopes); err != nil {
		return err
	}
	if p.ScheduledFor != "" {
		if _, err := ParseDate(p.ScheduledFor); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the task described by the input, owned by userID. The
// project reference is resolved by the caller.
func (p *TaskInput) Build(userID string) *Task {
	t := &Task{
		UserID:      userID,
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Status:      p.Status,
		Domain:      p.Domain,
		Priority:    p.Priority,
		BoardScope:  p.BoardScope,
	}
	if t.Status == "" {
		t.Status = TaskBacklog
	}
	if p.ScheduledFor != "" {
		d, _ := ParseDate(p.ScheduledFor)
		t.ScheduledFor = &d
	}
	return t
}

// TaskPatch updates a task. Nil fields are left unchanged.
type TaskPatch struct {
	TaskCode     int     `json:"taskCode"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Status       *string `json:"status,omitempty"`
	Domain       *string `json:"domain,omitempty"`
	Priority     *int    `json:"priority,omitempty"`
	ScheduledFor *string `json:"scheduledFor,omitempty"`
	BoardScope   *string `json:"boardScope,omitempty"`
	ProjectCode  *int    `json:"projectCode,omitempty"`
}

func (p *TaskPatch) Target() Target { return Target{Code: p.TaskCode} }

func (p *TaskPatch) Validate() error {
	if p.TaskCode <= 0 {
		return argError("taskCode is required")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return argError("title must not be empty")
	}
	if p.Status != nil {
		if err := checkEnum("status", *p.Status, validTaskStatuses); err != nil {
			return err
		}
	}
	if p.Domain != nil {
		if err := checkEnum("domain", *p.Domain, validDomains); err != nil {
			return err
		}
	}
	if p.BoardScope != nil {
		if err := checkEnum("boardScope", *p.BoardScope, validBoardScopes); err != nil {
			return err
		}
	}
	if p.ScheduledFor != nil && *p.ScheduledFor != "" {
		if _, err := ParseDate(*p.ScheduledFor); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies the set fields onto t. ProjectCode is resolved by the caller.
func (p *TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Domain != nil {
		t.Domain = *p.Domain
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ScheduledFor != nil {
		if *p.ScheduledFor == "" {
			t.ScheduledFor = nil
		} else {
			d, _ := ParseDate(*p.ScheduledFor)
			t.ScheduledFor = &d
		}
	}
	if p.BoardScope != nil {
		t.BoardScope = *p.BoardScope
	}
}

// ProjectInput creates a project.
type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	Goals       string `json:"goals,omitempty"`
}

func (p *ProjectInput) Target() Target { return Target{} }

func (p *ProjectInput) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return argError("name is required")
	}
	if err := checkEnum("type", p.Type, validProjectTypes); err != nil {
		return err
	}
	return checkEnum("status", p.Status, validProjectStatuses)
}

func (p *ProjectInput) Build(userID string) *Project {
	pr := &Project{
		UserID:      userID,
		Name:        strings.TrimSpace(p.Name),
		Description: p.Description,
		Type:        p.Type,
		Status:      p.Status,
		Goals:       p.Goals,
	}
	if pr.Type == "" {
		pr.Type = ProjectSide
	}
	if pr.Status == "" {
		pr.Status = ProjectActive
	}
	return pr
}

// ProjectPatch updates a project.
type ProjectPatch struct {
	ProjectCode int     `json:"projectCode"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Type        *string `json:"type,omitempty"`
	Status      *string `json:"status,omitempty"`
	Goals       *string `json:"goals,omitempty"`
}

func (p *ProjectPatch) Target() Target { return Target{Code: p.ProjectCode} }

func (p *ProjectPatch) Validate() error {
	if p.ProjectCode <= 0 {
		return argError("projectCode is required")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return argError("name must not be empty")
	}
	if p.Type != nil {
		if err := checkEnum("type", *p.Type, validProjectTypes); err != nil {
			return err
		}
	}
	if p.Status != nil {
		return checkEnum("status", *p.Status, validProjectStatuses)
	}
	return nil
}

func (p *ProjectPatch) Apply(pr *Project) {
	if p.Name != nil {
		pr.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		pr.Description = *p.Description
	}
	if p.Type != nil {
		pr.Type = *p.Type
	}
	if p.Status != nil {
		pr.Status = *p.Status
	}
	if p.Goals != nil {
		pr.Goals = *p.Goals
	}
}

// GoalInput creates a goal.
type GoalInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Horizon     string `json:"horizon,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (p *GoalInput) Target() Target { return Target{} }

func (p *GoalInput) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return argError("title is required")
	}
	if err := checkEnum("horizon", p.Horizon, validHorizons); err != nil {
		return err
	}
	return checkEnum("status", p.Status, validGoalStatuses)
}

func (p *GoalInput) Build(userID string) *Goal {
	g := &Goal{
		UserID:      userID,
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Horizon:     p.Horizon,
		Status:      p.Status,
	}
	if g.Horizon == "" {
		g.Horizon = HorizonQuarter
	}
	if g.Status == "" {
		g.Status = GoalActive
	}
	return g
}

// GoalPatch updates a goal.
type GoalPatch struct {
	GoalCode    int     `json:"goalCode"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Horizon     *string `json:"horizon,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func (p *GoalPatch) Target() Target { return Target{Code: p.GoalCode} }

func (p *GoalPatch) Validate() error {
	if p.GoalCode <= 0 {
		return argError("goalCode is required")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return argError("title must not be empty")
	}
	if p.Horizon != nil {
		if err := checkEnum("horizon", *p.Horizon, validHorizons); err != nil {
			return err
		}
	}
	if p.Status != nil {
		return checkEnum("status", *p.Status, validGoalStatuses)
	}
	return nil
}

func (p *GoalPatch) Apply(g *Goal) {
	if p.Title != nil {
		g.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Horizon != nil {
		g.Horizon = *p.Horizon
	}
	if p.Status != nil {
		g.Status = *p.Status
	}
}

// JournalInput creates a journal entry.
type JournalInput struct {
	Content    string `json:"content"`
	AIAnalysis string `json:"aiAnalysis,omitempty"`
}

func (p *JournalInput) Target() Target { return Target{} }

func (p *JournalInput) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return argError("content is required")
	}
	return nil
}

func (p *JournalInput) Build(userID string) *JournalEntry {
	return &JournalEntry{UserID: userID, Content: p.Content, AIAnalysis: p.AIAnalysis}
}

// JournalPatch updates a journal entry.
type JournalPatch struct {
	JournalCode int     `json:"journalCode"`
	Content     *string `json:"content,omitempty"`
	AIAnalysis  *string `json:"aiAnalysis,omitempty"`
}

func (p *JournalPatch) Target() Target { return Target{Code: p.JournalCode} }

func (p *JournalPatch) Validate() error {
	if p.JournalCode <= 0 {
		return argError("journalCode is required")
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return argError("content must not be empty")
	}
	return nil
}

func (p *JournalPatch) Apply(j *JournalEntry) {
	if p.Content != nil {
		j.Content = *p.Content
	}
	if p.AIAnalysis != nil {
		j.AIAnalysis = *p.AIAnalysis
	}
}

// MemoryInput creates a memory.
type MemoryInput struct {
	Content    string   `json:"content"`
	AnchorPath string   `json:"anchorPath,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (p *MemoryInput) Target() Target { return Target{} }

func (p *MemoryInput) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return argError("content is required")
	}
	return nil
}

func (p *MemoryInput) Build(userID string) *Memory {
	return &Memory{UserID: userID, Content: p.Content, AnchorPath: p.AnchorPath, Tags: p.Tags}
}

// MemoryPatch updates a memory.
type MemoryPatch struct {
	MemoryCode int       `json:"memoryCode"`
	Content    *string   `json:"content,omitempty"`
	AnchorPath *string   `json:"anchorPath,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
}

func (p *MemoryPatch) Target() Target { return Target{Code: p.MemoryCode} }

func (p *MemoryPatch) Validate() error {
	if p.MemoryCode <= 0 {
		return argError("memoryCode is required")
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return argError("content must not be empty")
	}
	return nil
}

func (p *MemoryPatch) Apply(m *Memory) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.AnchorPath != nil {
		m.AnchorPath = *p.AnchorPath
	}
	if p.Tags != nil {
		m.Tags = *p.Tags
	}
}

// FileInput creates a text attachment.
type FileInput struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType,omitempty"`
	Content    string `json:"content"`
	AttachedTo string `json:"attachedTo,omitempty"`
	AttachedID string `json:"attachedId,omitempty"`
}

func (p *FileInput) Target() Target { return Target{} }

func (p *FileInput) Validate() error {
	if strings.TrimSpace(p.Filename) == "" {
		return argError("filename is required")
	}
	if strings.ContainsAny(p.Filename, `/\`) {
		return argError("filename must not contain path separators")
	}
	if p.AttachedTo != "" {
		if _, err := ParseEntityType(p.AttachedTo); err != nil {
			return argError("attachedTo must be an entity type")
		}
	}
	return nil
}

func (p *FileInput) Build(userID string) *File {
	f := &File{
		UserID:     userID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		Size:       int64(len(p.Content)),
		AttachedTo: p.AttachedTo,
		AttachedID: p.AttachedID,
	}
	if f.MimeType == "" {
		f.MimeType = "text/plain"
	}
	return f
}

// FilePatch renames or re-attaches a file.
type FilePatch struct {
	FileID     string  `json:"fileId"`
	Filename   *string `json:"filename,omitempty"`
	AttachedTo *string `json:"attachedTo,omitempty"`
	AttachedID *string `json:"attachedId,omitempty"`
}

func (p *FilePatch) Target() Target { return Target{ID: p.FileID} }

func (p *FilePatch) Validate() error {
	if p.FileID == "" {
		return argError("fileId is required")
	}
	if p.Filename != nil && (strings.TrimSpace(*p.Filename) == "" || strings.ContainsAny(*p.Filename, `/\`)) {
		return argError("filename must be a plain non-empty name")
	}
	return nil
}

func (p *FilePatch) Apply(f *File) {
	if p.Filename != nil {
		f.Filename = *p.Filename
	}
	if p.AttachedTo != nil {
		f.AttachedTo = *p.AttachedTo
	}
	if p.AttachedID != nil {
		f.AttachedID = *p.AttachedID
	}
}

// DeleteArgs targets the entity to delete.
type DeleteArgs struct {
	Ref Target
}

func (p *DeleteArgs) Target() Target { return p.Ref }

func (p *DeleteArgs) Validate() error {
	if p.Ref.IsZero() || p.Ref.Code < 0 {
		return argError("a target is required")
	}
	return nil
}

type payloadKey struct {
	entity EntityType
	action ActionType
}

var payloadFactories = map[payloadKey]func() Payload{
	{EntityTask, ActionCreate}:    func() Payload { return &TaskInput{} },
	{EntityTask, ActionUpdate}:    func() Payload { return &TaskPatch{} },
	{EntityProject, ActionCreate}: func() Payload { return &ProjectInput{} },
	{EntityProject, ActionUpdate}: func() Payload { return &ProjectPatch{} },
	{EntityGoal, ActionCreate}:    func() Payload { return &GoalInput{} },
	{EntityGoal, ActionUpdate}:    func() Payload { return &GoalPatch{} },
	{EntityJournal, ActionCreate}: func() Payload { return &JournalInput{} },
	{EntityJournal, ActionUpdate}: func() Payload { return &JournalPatch{} },
	{EntityMemory, ActionCreate}:  func() Payload { return &MemoryInput{} },
	{EntityMemory, ActionUpdate}:  func() Payload { return &MemoryPatch{} },
	{EntityFile, ActionCreate}:    func() Payload { return &FileInput{} },
	{EntityFile, ActionUpdate}:    func() Payload { return &FilePatch{} },
}

// DecodePayload decodes raw tool arguments into the payload type for the
// given pair and validates it. Unknown fields are rejected. All failures wrap
// ErrToolArgument.
func DecodePayload(entity EntityType, action ActionType, raw json.RawMessage) (Payload, error) {
	if !entity.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrToolArgument, ErrInvalidEntityType)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	if action == ActionDelete {
		return decodeDelete(entity, raw)
	}

	factory, ok := payloadFactories[payloadKey{entity, action}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAction, action, entity)
	}
	p := factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolArgument, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeDelete(entity EntityType, raw json.RawMessage) (Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolArgument, err)
	}
	key := TargetKey(entity)
	for k := range fields {
		if k != key {
			return nil, fmt.Errorf("%w: unknown field %q", ErrToolArgument, k)
		}
	}
	v, ok := fields[key]
	if !ok {
		return nil, argError(key + " is required")
	}

	p := &DeleteArgs{}
	var err error
	if entity == EntityFile {
		err = json.Unmarshal(v, &p.Ref.ID)
	} else {
		err = json.Unmarshal(v, &p.Ref.Code)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolArgument, key, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.UTC(), nil
	}
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, argError(fmt.Sprintf("invalid date %q", s))
	}
	return d.UTC(), nil
}

func checkEnum(field, value string, allowed map[string]bool) error {
	if value == "" || allowed[value] {
		return nil
	}
	return argError(fmt.Sprintf("invalid %s %q", field, value))
}

func argError(msg string) error {
	return fmt.Errorf("%w: %s", ErrToolArgument, msg)
}
