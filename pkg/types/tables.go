package types

// Standard table names used by the storage backends.
const (
	TableThreads       = "threads"
	TableMessages      = "messages"
	TableActions       = "actions"
	TableShortCodes    = "short_codes"
	TableCodeSequences = "short_code_sequences"
	TableTasks         = "tasks"
	TableProjects      = "projects"
	TableGoals         = "goals"
	TableJournal       = "journal_entries"
	TableMemories      = "memories"
	TableFiles         = "files"
	TableTaskLinks     = "task_links"
	TableBotLinks      = "bot_links"
)

// EntityTables maps each entity type to the table holding its rows.
var EntityTables = map[EntityType]string{
	EntityTask:    TableTasks,
	EntityProject: TableProjects,
	EntityGoal:    TableGoals,
	EntityJournal: TableJournal,
	EntityMemory:  TableMemories,
	EntityFile:    TableFiles,
}
