package store

import (
	"context"

	"github.com/matheus3301/mpp/internal/entity"
)

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	StoredMessage
	Snippet string
}

// SearchMessages performs a full-text search on message bodies, newest
// first. A zero chat searches every chat.
func (db *DB) SearchMessages(ctx context.Context, query string, chat entity.Entity, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `, m.chat,
		       snippet(messages_fts, '<<', '>>', '...', -1, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if !chat.IsZero() {
		q += " AND m.chat = ?"
		args = append(args, entity.Format(chat))
	}
	q += " ORDER BY m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("search messages", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		sm, err := scanStored(rows, &r.Snippet)
		if err != nil {
			return nil, wrap("search messages", err)
		}
		r.StoredMessage = sm
		results = append(results, r)
	}
	return results, wrap("search messages", rows.Err())
}
