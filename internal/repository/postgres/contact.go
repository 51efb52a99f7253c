package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
	"github.com/cosmic-community/ssf-mailer-sub002/internal/engine"
)

// ContactRepo implements engine.ContactStore. Every query filters to
// active contacts and orders by id so pagination is stable.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact store.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactCols = `
	id, email, COALESCE(first_name,''), COALESCE(last_name,''),
	status, list_ids, tags, created_at`

func (r *ContactRepo) ByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts
		WHERE id = ANY($1) AND status = $2
		ORDER BY id
	`, pq.Array(ids), domain.ContactActive)
	if err != nil {
		return nil, fmt.Errorf("contacts by ids: %w", err)
	}
	return scanContacts(rows)
}

func (r *ContactRepo) ByList(ctx context.Context, listID string, page engine.Page) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts
		WHERE $1 = ANY(list_ids) AND status = $2
		ORDER BY id
		LIMIT $3 OFFSET $4
	`, listID, domain.ContactActive, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("contacts by list: %w", err)
	}
	return scanContacts(rows)
}

func (r *ContactRepo) ByTags(ctx context.Context, tags []string, page engine.Page) ([]domain.Contact, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactCols+`
		FROM contacts
		WHERE tags && $1 AND status = $2
		ORDER BY id
		LIMIT $3 OFFSET $4
	`, pq.Array(tags), domain.ContactActive, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("contacts by tags: %w", err)
	}
	return scanContacts(rows)
}

func scanContacts(rows *sql.Rows) ([]domain.Contact, error) {
	defer rows.Close()
	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(
			&c.ID, &c.Email, &c.FirstName, &c.LastName,
			&c.Status, pq.Array(&c.ListIDs), pq.Array(&c.Tags), &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
