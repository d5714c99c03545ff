package sqlite

// Schema DDL for all tables. Timestamps are fixed-width UTC text so that
// lexical order equals time order; message timestamps are Unix nanoseconds
// to give a strict total order within a thread.
const (
	createThreads = `CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    anchor_path TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    archived_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createMessages = `CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    tool_calls TEXT,
    model TEXT NOT NULL DEFAULT '',
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    deleted_at TEXT,
    FOREIGN KEY (thread_id) REFERENCES threads(id)
);`

	createActions = `CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL DEFAULT '',
    target_code INTEGER NOT NULL DEFAULT 0,
    tool_name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    status TEXT NOT NULL,
    snapshot_before TEXT,
    snapshot_after TEXT,
    created_at TEXT NOT NULL,
    executed_at TEXT,
    reverted_at TEXT,
    FOREIGN KEY (message_id) REFERENCES messages(id)
);`

	createShortCodes = `CREATE TABLE IF NOT EXISTS short_codes (
    user_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    code INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (user_id, entity_type, code),
    UNIQUE (user_id, entity_type, entity_id)
);`

	createCodeSequences = `CREATE TABLE IF NOT EXISTS short_code_sequences (
    user_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    last_code INTEGER NOT NULL,
    PRIMARY KEY (user_id, entity_type)
);`

	createTasks = `CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    domain TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    scheduled_for TEXT,
    board_scope TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createProjects = `CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    goals TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createGoals = `CREATE TABLE IF NOT EXISTS goals (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    horizon TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createJournal = `CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    ai_analysis TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`

	createMemories = `CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    anchor_path TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createFiles = `CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    attached_to TEXT NOT NULL DEFAULT '',
    attached_id TEXT NOT NULL DEFAULT '',
    filename TEXT NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    storage_path TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createTaskLinks = `CREATE TABLE IF NOT EXISTS task_links (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    task_a_id TEXT NOT NULL,
    task_b_id TEXT NOT NULL,
    link_type TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createBotLinks = `CREATE TABLE IF NOT EXISTS bot_links (
    chat_id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);`
)

// Index DDL.
const (
	indexThreadsUser   = `CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, updated_at);`
	indexThreadsAnchor = `CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_anchor ON threads(user_id, anchor_path) WHERE archived_at IS NULL AND anchor_path <> '';`
	indexMessages      = `CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);`
	indexActionsMsg    = `CREATE INDEX IF NOT EXISTS idx_actions_message ON actions(message_id);`
	indexActionsStatus = `CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);`
	indexTasksUser     = `CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at);`
	indexTasksProject  = `CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);`
	indexProjectsUser  = `CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, created_at);`
	indexGoalsUser     = `CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id, created_at);`
	indexJournalUser   = `CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries(user_id, created_at);`
	indexMemoriesUser  = `CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at);`
	indexFilesUser     = `CREATE INDEX IF NOT EXISTS idx_files_user ON files(user_id, created_at);`
	indexTaskLinksA    = `CREATE INDEX IF NOT EXISTS idx_task_links_a ON task_links(task_a_id);`
	indexTaskLinksB    = `CREATE INDEX IF NOT EXISTS idx_task_links_b ON task_links(task_b_id);`
)

var schemaDDL = []string{
	createThreads,
	createMessages,
	createActions,
	createShortCodes,
	createCodeSequences,
	createTasks,
	createProjects,
	createGoals,
	createJournal,
	createMemories,
	createFiles,
	createTaskLinks,
	createBotLinks,
}

var indexDDL = []string{
	indexThreadsUser,
	indexThreadsAnchor,
	indexMessages,
	indexActionsMsg,
	indexActionsStatus,
	indexTasksUser,
	indexTasksProject,
	indexProjectsUser,
	indexGoalsUser,
	indexJournalUser,
	indexMemoriesUser,
	indexFilesUser,
	indexTaskLinksA,
	indexTaskLinksB,
}
