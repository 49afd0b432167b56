package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pulse/internal/models"

	"github.com/google/uuid"
)

// Store persists analysis records in the SQL database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a new record owned by ownerID.
func (s *Store) Create(ctx context.Context, ownerID int64, fileName, fileType, sourceText, summary string) (*models.AnalysisRecord, error) {
	record := &models.AnalysisRecord{
		ID:           uuid.NewString(),
		UserID:       ownerID,
		FileName:     fileName,
		FileType:     fileType,
		OriginalText: sourceText,
		Summary:      summary,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses(id, user_id, file_name, file_type, original_text, summary, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.FileName, record.FileType, record.OriginalText, record.Summary, record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert analysis: %v", ErrStorage, err)
	}
	return record, nil
}

// ListByOwner returns every record of ownerID, newest first. The result is
// never nil.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]models.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, file_type, original_text, summary, created_at
		FROM analyses WHERE user_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list analyses: %v", ErrStorage, err)
	}
	defer rows.Close()

	records := make([]models.AnalysisRecord, 0)
	for rows.Next() {
		var r models.AnalysisRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.FileName, &r.FileType, &r.OriginalText, &r.Summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan analysis: %v", ErrStorage, err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list analyses: %v", ErrStorage, err)
	}
	return records, nil
}

// Get returns one record of ownerID. Records owned by someone else are
// reported as not found.
func (s *Store) Get(ctx context.Context, ownerID int64, id string) (*models.AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var r models.AnalysisRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, file_name, file_type, original_text, summary, created_at
		FROM analyses WHERE id = ? AND user_id = ?`, id, ownerID,
	).Scan(&r.ID, &r.UserID, &r.FileName, &r.FileType, &r.OriginalText, &r.Summary, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get analysis: %v", ErrStorage, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// DeleteByID removes the record if ownerID owns it. The ownership check and
// the delete are one statement, so a non-owner can never remove a record. A
// tombstone keeps the owner of deleted ids so that a non-owner is refused
// consistently, even after the owner's own delete went through.
func (s *Store) DeleteByID(ctx context.Context, ownerID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	deleted, err := s.deleteOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}

	var owner int64
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id FROM analyses WHERE id = ?
		UNION ALL
		SELECT user_id FROM analysis_tombstones WHERE id = ?`, id, id,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: lookup analysis: %v", ErrStorage, err)
	}
	if owner != ownerID {
		return ErrNotAuthorized
	}
	// already deleted by its owner
	return ErrNotFound
}

func (s *Store) deleteOwned(ctx context.Context, ownerID int64, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin delete: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("%w: delete analysis: %v", ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete analysis: %v", ErrStorage, err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analysis_tombstones(id, user_id, deleted_at) VALUES(?, ?, ?)`,
		id, ownerID, s.now().UTC().Truncate(time.Microsecond),
	); err != nil {
		return false, fmt.Errorf("%w: record tombstone: %v", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit delete: %v", ErrStorage, err)
	}
	return true, nil
}

// PruneTombstones forgets ids deleted before cutoff. A non-owner deleting a
// pruned id gets ErrNotFound instead of ErrNotAuthorized.
func (s *Store) PruneTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_tombstones WHERE deleted_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: prune tombstones: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: prune tombstones: %v", ErrStorage, err)
	}
	return n, nil
}

// CountByOwner returns how many records ownerID has.
func (s *Store) CountByOwner(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses WHERE user_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count analyses: %v", ErrStorage, err)
	}
	return n, nil
}
