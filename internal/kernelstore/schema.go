package kernelstore

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                       TEXT PRIMARY KEY,
	prompt                   TEXT NOT NULL,
	priority                 TEXT NOT NULL,
	working_directory        TEXT NOT NULL,
	status                   TEXT NOT NULL,
	exit_code                INTEGER,
	error_message            TEXT,
	created_at               TEXT NOT NULL,
	started_at               TEXT,
	completed_at             TEXT,
	retry_count              INTEGER NOT NULL DEFAULT 0,
	parent_task_id           TEXT,
	retry_of                 TEXT,
	dependency_state         TEXT NOT NULL,
	use_worktree             INTEGER NOT NULL DEFAULT 0,
	worktree_cleanup         TEXT,
	worktree_branch_name     TEXT,
	worktree_base_branch     TEXT,
	worktree_merge_strategy  TEXT,
	worktree_auto_commit     INTEGER NOT NULL DEFAULT 0,
	worktree_push_to_remote  INTEGER NOT NULL DEFAULT 0,
	worktree_pr_title        TEXT,
	worktree_pr_body         TEXT,
	timeout_ms               INTEGER NOT NULL,
	max_output_buffer_bytes  INTEGER NOT NULL,
	continue_from            TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS task_dependencies (
	id                  TEXT PRIMARY KEY,
	task_id             TEXT NOT NULL REFERENCES tasks(id),
	depends_on_task_id  TEXT NOT NULL REFERENCES tasks(id),
	created_at          TEXT NOT NULL,
	resolved_at         TEXT,
	resolution          TEXT NOT NULL,
	UNIQUE(task_id, depends_on_task_id)
);

CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_task_id);

CREATE TABLE IF NOT EXISTS task_outputs (
	task_id     TEXT NOT NULL,
	stream      TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	chunk       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (task_id, stream, sequence)
);

CREATE TABLE IF NOT EXISTS schedules (
	id                       TEXT PRIMARY KEY,
	task_prompt              TEXT NOT NULL,
	task_priority            TEXT NOT NULL,
	task_working_directory   TEXT NOT NULL,
	task_use_worktree        INTEGER NOT NULL DEFAULT 0,
	task_worktree_cleanup    TEXT,
	task_worktree_branch     TEXT,
	task_worktree_base       TEXT,
	task_worktree_merge      TEXT,
	task_timeout_ms          INTEGER NOT NULL,
	task_max_output_bytes    INTEGER NOT NULL,
	task_depends_on          TEXT,
	task_continue_from       TEXT,
	schedule_type            TEXT NOT NULL,
	cron_expression          TEXT,
	scheduled_at             TEXT,
	timezone                 TEXT NOT NULL,
	missed_run_policy        TEXT NOT NULL,
	status                   TEXT NOT NULL,
	max_runs                 INTEGER,
	run_count                INTEGER NOT NULL DEFAULT 0,
	last_run_at              TEXT,
	next_run_at              TEXT,
	expires_at               TEXT,
	after_schedule_id        TEXT
);

CREATE INDEX IF NOT EXISTS idx_schedules_status ON schedules(status);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run_at ON schedules(next_run_at);

CREATE TABLE IF NOT EXISTS schedule_executions (
	id             TEXT PRIMARY KEY,
	schedule_id    TEXT NOT NULL REFERENCES schedules(id),
	task_id        TEXT,
	scheduled_for  TEXT NOT NULL,
	executed_at    TEXT,
	status         TEXT NOT NULL,
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS idx_schedule_executions_schedule_id ON schedule_executions(schedule_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id              TEXT PRIMARY KEY,
	task_id         TEXT NOT NULL REFERENCES tasks(id),
	created_at      TEXT NOT NULL,
	prior_prompt    TEXT NOT NULL,
	prior_status    TEXT NOT NULL,
	prior_exit_code INTEGER,
	output_prefix   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_task_id ON checkpoints(task_id);
`
