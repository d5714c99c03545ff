package orchestrator

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Kind separates tools that only read from tools that propose writes.
type Kind string

// Tool kinds.
const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// ToolSpec is one catalogue entry. Write tools name the action they
// propose; read tools leave EntityType and ActionType empty.
type ToolSpec struct {
	Tool       mcp.Tool
	Kind       Kind
	EntityType types.EntityType
	ActionType types.ActionType
}

// Catalogue is the closed set of tools offered to the model.
type Catalogue struct {
	specs  []ToolSpec
	byName map[string]ToolSpec
}

// NewCatalogue returns the full tool set.
func NewCatalogue() *Catalogue {
	c := &Catalogue{byName: map[string]ToolSpec{}}
	for _, t := range readTools() {
		c.add(ToolSpec{Tool: t, Kind: KindRead})
	}
	for _, s := range writeTools() {
		c.add(s)
	}
	return c
}

func (c *Catalogue) add(s ToolSpec) {
	c.specs = append(c.specs, s)
	c.byName[s.Tool.Name] = s
}

// Tools returns the tool definitions in catalogue order.
func (c *Catalogue) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.Tool
	}
	return out
}

// Lookup finds a tool by name.
func (c *Catalogue) Lookup(name string) (ToolSpec, bool) {
	s, ok := c.byName[name]
	return s, ok
}

var (
	taskStatuses    = []string{types.TaskBacklog, types.TaskTodo, types.TaskInProgress, types.TaskDone}
	taskDomains     = []string{types.DomainWork, types.DomainSide, types.DomainChores, types.DomainLife}
	boardScopes     = []string{types.ScopeDay, types.ScopeWeek, types.ScopeMonth, types.ScopeQuarter}
	projectStatuses = []string{types.ProjectActive, types.ProjectCompleted, types.ProjectArchived}
	projectTypes    = []string{types.ProjectSide, types.ProjectLearning, types.ProjectLife}
	goalStatuses    = []string{types.GoalActive, types.GoalAchieved, types.GoalAbandoned}
	goalHorizons    = []string{types.HorizonMonth, types.HorizonQuarter, types.HorizonYear, types.HorizonLife}
)

func entityTypeNames() []string {
	out := make([]string, len(types.EntityTypes))
	for i, t := range types.EntityTypes {
		out[i] = string(t)
	}
	return out
}

func readTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("searchTasks",
			mcp.WithDescription("Search the user's tasks by title text and filters. Returns matching tasks with their short codes, newest first."),
			mcp.WithString("query", mcp.Description("Text to match against task titles")),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(taskStatuses...)),
			mcp.WithString("domain", mcp.Description("Filter by life domain"), mcp.Enum(taskDomains...)),
			mcp.WithNumber("projectCode", mcp.Description("Only tasks in this project (project#code)")),
			mcp.WithString("scheduledOn", mcp.Description("Only tasks scheduled on this date, YYYY-MM-DD")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default 20)")),
		),
		mcp.NewTool("getTask",
			mcp.WithDescription("Get one task by short code, including its links to other tasks."),
			mcp.WithNumber("taskCode", mcp.Required(), mcp.Description("The task short code (task#code)")),
		),
		mcp.NewTool("getProjects",
			mcp.WithDescription("List the user's projects, optionally filtered."),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(projectStatuses...)),
			mcp.WithString("type", mcp.Description("Filter by project type"), mcp.Enum(projectTypes...)),
		),
		mcp.NewTool("getProject",
			mcp.WithDescription("Get a project and its tasks by short code."),
			mcp.WithNumber("projectCode", mcp.Required(), mcp.Description("The project short code (project#code)")),
		),
		mcp.NewTool("getGoals",
			mcp.WithDescription("List the user's goals, optionally filtered by horizon or status."),
			mcp.WithString("horizon", mcp.Description("Filter by time horizon"), mcp.Enum(goalHorizons...)),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(goalStatuses...)),
		),
		mcp.NewTool("searchMemories",
			mcp.WithDescription("Search remembered facts about the user by text, tag or anchor page."),
			mcp.WithString("query", mcp.Description("Text to match against memory content")),
			mcp.WithString("tag", mcp.Description("Only memories with this tag")),
			mcp.WithString("anchorPath", mcp.Description("Only memories attached to this page")),
		),
		mcp.NewTool("getJournalEntries",
			mcp.WithDescription("List recent journal entries, optionally for one day."),
			mcp.WithString("date", mcp.Description("Only entries written on this date, YYYY-MM-DD")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 10)")),
		),
		mcp.NewTool("resolveMentions",
			mcp.WithDescription("Resolve type#code references such as task#3 or project#9 in a piece of text."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text containing references")),
		),
	}
}

func codeParam(kind types.EntityType) mcp.ToolOption {
	key := types.TargetKey(kind)
	if kind == types.EntityFile {
		return mcp.WithString(key, mcp.Required(), mcp.Description("The file ID"))
	}
	return mcp.WithNumber(key, mcp.Required(), mcp.Description("The "+string(kind)+" short code ("+string(kind)+"#code)"))
}

func write(kind types.EntityType, act types.ActionType, tool mcp.Tool) ToolSpec {
	return ToolSpec{Tool: tool, Kind: KindWrite, EntityType: kind, ActionType: act}
}

func writeTools() []ToolSpec {
	task, project, goal := types.EntityTask, types.EntityProject, types.EntityGoal
	journal, memory, file := types.EntityJournal, types.EntityMemory, types.EntityFile
	create, update, del := types.ActionCreate, types.ActionUpdate, types.ActionDelete

	return []ToolSpec{
		write(task, create, mcp.NewTool("createTask",
			mcp.WithDescription("Propose a new task. The user confirms before it is created."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
			mcp.WithString("description", mcp.Description("Details")),
			mcp.WithString("status", mcp.Description("Initial status (default backlog)"), mcp.Enum(taskStatuses...)),
			mcp.WithString("domain", mcp.Description("Life domain"), mcp.Enum(taskDomains...)),
			mcp.WithNumber("priority", mcp.Description("Priority 0-4, higher is more important")),
			mcp.WithString("scheduledFor", mcp.Description("Date to work on it, YYYY-MM-DD")),
			mcp.WithString("boardScope", mcp.Description("Planning board the task sits on"), mcp.Enum(boardScopes...)),
			mcp.WithNumber("projectCode", mcp.Description("Project to add the task to (project#code)")),
		)),
		write(task, update, mcp.NewTool("updateTask",
			mcp.WithDescription("Propose changes to an existing task. Only the given fields change."),
			codeParam(task),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New details")),
			mcp.WithString("status", mcp.Description("New status"), mcp.Enum(taskStatuses...)),
			mcp.WithString("domain", mcp.Description("New life domain"), mcp.Enum(taskDomains...)),
			mcp.WithNumber("priority", mcp.Description("New priority 0-4")),
			mcp.WithString("scheduledFor", mcp.Description("New date YYYY-MM-DD, or empty to unschedule")),
			mcp.WithString("boardScope", mcp.Description("New planning board"), mcp.Enum(boardScopes...)),
			mcp.WithNumber("projectCode", mcp.Description("Move to this project (project#code), 0 to detach")),
		)),
		write(task, del, mcp.NewTool("deleteTask",
			mcp.WithDescription("Propose deleting a task."),
			codeParam(task),
		)),

		write(project, create, mcp.NewTool("createProject",
			mcp.WithDescription("Propose a new project."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
			mcp.WithString("description", mcp.Description("Details")),
			mcp.WithString("type", mcp.Description("Project type (default side_project)"), mcp.Enum(projectTypes...)),
			mcp.WithString("status", mcp.Description("Initial status (default active)"), mcp.Enum(projectStatuses...)),
			mcp.WithString("goals", mcp.Description("What the project should achieve")),
		)),
		write(project, update, mcp.NewTool("updateProject",
			mcp.WithDescription("Propose changes to a project name, description, goals or status."),
			codeParam(project),
			mcp.WithString("name", mcp.Description("New name")),
			mcp.WithString("description", mcp.Description("New details")),
			mcp.WithString("type", mcp.Description("New type"), mcp.Enum(projectTypes...)),
			mcp.WithString("status", mcp.Description("New status"), mcp.Enum(projectStatuses...)),
			mcp.WithString("goals", mcp.Description("New goals")),
		)),
		write(project, del, mcp.NewTool("deleteProject",
			mcp.WithDescription("Propose deleting a project. Its tasks are kept and detached."),
			codeParam(project),
		)),

		write(goal, create, mcp.NewTool("createGoal",
			mcp.WithDescription("Propose a new goal."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Goal title")),
			mcp.WithString("description", mcp.Description("Details")),
			mcp.WithString("horizon", mcp.Description("Time horizon (default quarter)"), mcp.Enum(goalHorizons...)),
			mcp.WithString("status", mcp.Description("Initial status (default active)"), mcp.Enum(goalStatuses...)),
		)),
		write(goal, update, mcp.NewTool("updateGoal",
			mcp.WithDescription("Propose changes to a goal."),
			codeParam(goal),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New details")),
			mcp.WithString("horizon", mcp.Description("New horizon"), mcp.Enum(goalHorizons...)),
			mcp.WithString("status", mcp.Description("New status"), mcp.Enum(goalStatuses...)),
		)),
		write(goal, del, mcp.NewTool("deleteGoal",
			mcp.WithDescription("Propose deleting a goal."),
			codeParam(goal),
		)),

		write(journal, create, mcp.NewTool("createJournalEntry",
			mcp.WithDescription("Propose a journal entry for reflection."),
			mcp.WithString("content", mcp.Required(), mcp.Description("Entry text")),
			mcp.WithString("aiAnalysis", mcp.Description("Short reflection on the entry")),
		)),
		write(journal, update, mcp.NewTool("updateJournalEntry",
			mcp.WithDescription("Propose changes to a journal entry."),
			codeParam(journal),
			mcp.WithString("content", mcp.Description("New text")),
			mcp.WithString("aiAnalysis", mcp.Description("New reflection")),
		)),
		write(journal, del, mcp.NewTool("deleteJournalEntry",
			mcp.WithDescription("Propose deleting a journal entry."),
			codeParam(journal),
		)),

		write(memory, create, mcp.NewTool("createMemory",
			mcp.WithDescription("Propose remembering a fact about the user."),
			mcp.WithString("content", mcp.Required(), mcp.Description("The fact")),
			mcp.WithString("anchorPath", mcp.Description("Page the fact belongs to")),
			mcp.WithArray("tags", mcp.Description("Tags"), mcp.Items(map[string]any{"type": "string"})),
		)),
		write(memory, update, mcp.NewTool("updateMemory",
			mcp.WithDescription("Propose changes to a remembered fact."),
			codeParam(memory),
			mcp.WithString("content", mcp.Description("New text")),
			mcp.WithString("anchorPath", mcp.Description("New page")),
			mcp.WithArray("tags", mcp.Description("Replacement tags"), mcp.Items(map[string]any{"type": "string"})),
		)),
		write(memory, del, mcp.NewTool("deleteMemory",
			mcp.WithDescription("Propose forgetting a remembered fact."),
			codeParam(memory),
		)),

		write(file, create, mcp.NewTool("createFile",
			mcp.WithDescription("Propose saving a text note as a file, optionally attached to an entity."),
			mcp.WithString("filename", mcp.Required(), mcp.Description("File name without directories")),
			mcp.WithString("content", mcp.Required(), mcp.Description("File text")),
			mcp.WithString("mimeType", mcp.Description("MIME type (default text/plain)")),
			mcp.WithString("attachedTo", mcp.Description("Entity type the file belongs to"), mcp.Enum(entityTypeNames()...)),
			mcp.WithString("attachedId", mcp.Description("Entity ID the file belongs to")),
		)),
		write(file, update, mcp.NewTool("updateFile",
			mcp.WithDescription("Propose renaming or re-attaching a file."),
			codeParam(file),
			mcp.WithString("filename", mcp.Description("New file name")),
			mcp.WithString("attachedTo", mcp.Description("New entity type"), mcp.Enum(entityTypeNames()...)),
			mcp.WithString("attachedId", mcp.Description("New entity ID")),
		)),
		write(file, del, mcp.NewTool("deleteFile",
			mcp.WithDescription("Propose deleting a file."),
			codeParam(file),
		)),
	}
}
