package repository

// Schema definitions for the Kestrel artifact store.
// Artifact data is a BLOB in SQLite and a BYTEA in PostgreSQL.

const schemaArtifactsSQLite = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    size INTEGER NOT NULL,
    data BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaArtifactsPostgres = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    size BIGINT NOT NULL,
    data BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

const schemaArtifactsIndex = `
CREATE INDEX IF NOT EXISTS idx_model_artifacts_updated ON model_artifacts(updated_at);
`

// AllSchemas returns all schema statements for driver in order.
func AllSchemas(driver string) []string {
	if driver == "postgres" {
		return []string{schemaArtifactsPostgres, schemaArtifactsIndex}
	}
	return []string{schemaArtifactsSQLite, schemaArtifactsIndex}
}
