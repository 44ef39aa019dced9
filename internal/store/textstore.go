package store

import (
	"context"
	"database/sql"

	"github.com/trans/memo/internal/errs"
)

// StoreText inserts content under hash into the text database attached as
// alias, atomically guarding against the duplicate-insert race described in
// spec.md §9 Open Question (iii): a single INSERT ... WHERE NOT EXISTS
// rather than a check-then-insert, applied to both the content table and
// its FTS5 shadow table.
func StoreText(ctx context.Context, q dbtx, alias string, hash [HashSize]byte, content string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO `+quoteIdent(alias)+`.texts (hash, content)
		 SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM `+quoteIdent(alias)+`.texts WHERE hash = ?)`,
		hash[:], content, hash[:])
	if err != nil {
		return errs.StorageError("insert text", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO `+quoteIdent(alias)+`.texts_fts (hash, content)
		 SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM `+quoteIdent(alias)+`.texts_fts WHERE hash = ?)`,
		hash[:], content, hash[:])
	if err != nil {
		return errs.StorageError("insert fts text", err)
	}
	return nil
}

// GetText reads content for hash from the text database attached as alias.
// Returns ("", false, nil) if absent.
func GetText(ctx context.Context, q dbtx, alias string, hash [HashSize]byte) (string, bool, error) {
	var content string
	err := q.QueryRowContext(ctx, `SELECT content FROM `+quoteIdent(alias)+`.texts WHERE hash = ?`, hash[:]).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errs.StorageError("get text", err)
	}
	return content, true, nil
}
