package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var taskDef = entityDef[*types.Task]{
	table: types.TableTasks,
	columns: []string{"id", "user_id", "title", "description", "status", "domain", "priority",
		"scheduled_for", "board_scope", "project_id", "created_at", "updated_at"},
	search: "title",
	scan:   hydrateTask,
	values: func(t *types.Task) []any {
		return []any{t.ID, t.UserID, t.Title, t.Description, t.Status, t.Domain, t.Priority,
			formatNullTime(t.ScheduledFor), t.BoardScope, t.ProjectID,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt)}
	},
	setID: func(t *types.Task, id string) { t.ID = id },
	filters: map[string]string{
		"status":      "status = ?",
		"notStatus":   "status <> ?",
		"domain":      "domain = ?",
		"boardScope":  "board_scope = ?",
		"projectId":   "project_id = ?",
		"scheduledOn": "substr(scheduled_for, 1, 10) = ?",
	},
}

func hydrateTask(row scanner) (*types.Task, error) {
	var (
		t                    types.Task
		scheduled            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.Domain, &t.Priority,
		&scheduled, &t.BoardScope, &t.ProjectID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.ScheduledFor, err = parseNullTime(scheduled); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

var projectDef = entityDef[*types.Project]{
	table:   types.TableProjects,
	columns: []string{"id", "user_id", "name", "description", "type", "status", "goals", "created_at", "updated_at"},
	search:  "name",
	scan:    hydrateProject,
	values: func(p *types.Project) []any {
		return []any{p.ID, p.UserID, p.Name, p.Description, p.Type, p.Status, p.Goals,
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt)}
	},
	setID: func(p *types.Project, id string) { p.ID = id },
	filters: map[string]string{
		"status": "status = ?",
		"type":   "type = ?",
	},
}

func hydrateProject(row scanner) (*types.Project, error) {
	var (
		p                    types.Project
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Type, &p.Status, &p.Goals,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

var goalDef = entityDef[*types.Goal]{
	table:   types.TableGoals,
	columns: []string{"id", "user_id", "title", "description", "horizon", "status", "created_at", "updated_at"},
	search:  "title",
	scan:    hydrateGoal,
	values: func(g *types.Goal) []any {
		return []any{g.ID, g.UserID, g.Title, g.Description, g.Horizon, g.Status,
			formatTime(g.CreatedAt), formatTime(g.UpdatedAt)}
	},
	setID: func(g *types.Goal, id string) { g.ID = id },
	filters: map[string]string{
		"status":  "status = ?",
		"horizon": "horizon = ?",
	},
}

func hydrateGoal(row scanner) (*types.Goal, error) {
	var (
		g                    types.Goal
		createdAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.Horizon, &g.Status,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

var journalDef = entityDef[*types.JournalEntry]{
	table:   types.TableJournal,
	columns: []string{"id", "user_id", "content", "ai_analysis", "created_at"},
	search:  "content",
	scan:    hydrateJournal,
	values: func(j *types.JournalEntry) []any {
		return []any{j.ID, j.UserID, j.Content, j.AIAnalysis, formatTime(j.CreatedAt)}
	},
	setID: func(j *types.JournalEntry, id string) { j.ID = id },
	filters: map[string]string{
		"createdOn": "substr(created_at, 1, 10) = ?",
	},
}

func hydrateJournal(row scanner) (*types.JournalEntry, error) {
	var (
		j         types.JournalEntry
		createdAt string
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.Content, &j.AIAnalysis, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &j, nil
}

var memoryDef = entityDef[*types.Memory]{
	table:   types.TableMemories,
	columns: []string{"id", "user_id", "anchor_path", "content", "tags", "created_at", "updated_at"},
	search:  "content",
	scan:    hydrateMemory,
	values: func(m *types.Memory) []any {
		tags, _ := json.Marshal(m.Tags)
		if m.Tags == nil {
			tags = []byte("[]")
		}
		return []any{m.ID, m.UserID, m.AnchorPath, m.Content, string(tags),
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt)}
	},
	setID: func(m *types.Memory, id string) { m.ID = id },
	filters: map[string]string{
		"anchorPath": "anchor_path = ?",
		"tag":        "EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = ?)",
	},
}

func hydrateMemory(row scanner) (*types.Memory, error) {
	var (
		m                    types.Memory
		tags                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.AnchorPath, &m.Content, &tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, err
	}
	if len(m.Tags) == 0 {
		m.Tags = nil
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

var fileDef = entityDef[*types.File]{
	table: types.TableFiles,
	columns: []string{"id", "user_id", "attached_to", "attached_id", "filename", "mime_type", "size",
		"storage_path", "created_at"},
	search: "filename",
	scan:   hydrateFile,
	values: func(f *types.File) []any {
		return []any{f.ID, f.UserID, f.AttachedTo, f.AttachedID, f.Filename, f.MimeType, f.Size,
			f.StoragePath, formatTime(f.CreatedAt)}
	},
	setID: func(f *types.File, id string) { f.ID = id },
	filters: map[string]string{
		"attachedTo": "attached_to = ?",
		"attachedId": "attached_id = ?",
	},
}

func hydrateFile(row scanner) (*types.File, error) {
	var (
		f         types.File
		createdAt string
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.AttachedTo, &f.AttachedID, &f.Filename, &f.MimeType, &f.Size,
		&f.StoragePath, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}
