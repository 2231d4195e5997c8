package repository

// Schema definitions for the Harrier label store.
// Compatible with both SQLite and PostgreSQL.

// schemaLabels holds one row per supplied label. A transaction may be
// relabeled; the newest row wins.
const schemaLabels = `
CREATE TABLE IF NOT EXISTS labels (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    location TEXT NOT NULL,
    fraudulent INTEGER NOT NULL,
    labeled_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_labels_tx ON labels(tx_id);
CREATE INDEX IF NOT EXISTS idx_labels_labeled_at ON labels(labeled_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLabels,
	}
}
