package postgresql

// migrations returns the schema migrations for the checkpoint store, keyed by
// version. The (workflow_id, created_at DESC, seq DESC) index serves the
// newest-first per-workflow listing that retention and rollback depend on.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS checkpoints (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				seq BIGINT NOT NULL DEFAULT 0,
				description TEXT NOT NULL DEFAULT '',
				state JSONB NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow_order
				ON checkpoints (workflow_id, created_at DESC, seq DESC);
		`,
	}
}
