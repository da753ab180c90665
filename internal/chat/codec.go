package chat

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fechatter/fechatter/internal/models"
)

// filesJSON marshals a message's attached files for the messages.files JSONB
// column, returning nil (not "null") for an empty slice so the column stays
// NULL rather than storing an empty JSON array.
func filesJSON(files []models.FileRef) []byte {
	if len(files) == 0 {
		return nil
	}
	raw, err := json.Marshal(files)
	if err != nil {
		return nil
	}
	return raw
}

// parseFilesJSON is the inverse of filesJSON; a NULL/empty column scans as
// no files rather than an error.
func parseFilesJSON(raw []byte) []models.FileRef {
	if len(raw) == 0 {
		return nil
	}
	var files []models.FileRef
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil
	}
	return files
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
