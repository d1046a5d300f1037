package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"gallery/internal/metadata"
)

// Store wraps SQLite-backed persistence for the photo catalog and uploads.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS photo_metadata (
            filename TEXT PRIMARY KEY,
            camera TEXT,
            lens TEXT,
            iso INTEGER,
            aperture TEXT,
            shutter TEXT,
            focal_length TEXT,
            timestamp TEXT,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS uploads (
            blob_name TEXT PRIMARY KEY,
            filename TEXT NOT NULL,
            mime_type TEXT,
            size INTEGER,
            meta_json TEXT,
            created_at TIMESTAMP NOT NULL,
            deleted_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// UploadRecord captures a persisted analyzer upload.
type UploadRecord struct {
	BlobName  string          `json:"blob_name"`
	Filename  string          `json:"filename"`
	MIME      string          `json:"mime_type"`
	Size      int64           `json:"size"`
	Meta      metadata.Record `json:"meta"`
	CreatedAt time.Time       `json:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// ReplacePhotos swaps the catalog contents for recs in one transaction.
func (s *Store) ReplacePhotos(ctx context.Context, recs []metadata.Record) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM photo_metadata;`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO photo_metadata (filename, camera, lens, iso, aperture, shutter, focal_length, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.Filename, nullable(rec.Camera), nullable(rec.Lens), nullable(rec.ISO), nullable(rec.Aperture), nullable(rec.Shutter), nullable(rec.FocalLength), nullable(rec.Timestamp)); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Filename, err)
		}
	}
	return tx.Commit()
}

// Photos returns the catalog ordered by filename.
func (s *Store) Photos(ctx context.Context) ([]metadata.Record, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT filename, camera, lens, iso, aperture, shutter, focal_length, timestamp FROM photo_metadata ORDER BY filename;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []metadata.Record
	for rows.Next() {
		var rec metadata.Record
		var camera, lens, aperture, shutter, focal, ts sql.NullString
		var iso sql.NullInt64
		if err := rows.Scan(&rec.Filename, &camera, &lens, &iso, &aperture, &shutter, &focal, &ts); err != nil {
			return nil, err
		}
		rec.Camera = nullString(camera)
		rec.Lens = nullString(lens)
		rec.Aperture = nullString(aperture)
		rec.Shutter = nullString(shutter)
		rec.FocalLength = nullString(focal)
		rec.Timestamp = nullString(ts)
		if iso.Valid {
			n := int(iso.Int64)
			rec.ISO = &n
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordUpload stores an analyzer upload. Uploads without a blob name are not recorded.
func (s *Store) RecordUpload(ctx context.Context, rec UploadRecord) error {
	if s == nil || rec.BlobName == "" {
		return nil
	}
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `INSERT OR REPLACE INTO uploads (blob_name, filename, mime_type, size, meta_json, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.BlobName, rec.Filename, rec.MIME, rec.Size, string(metaJSON), created)
	return err
}

// MarkUploadDeleted stamps the deletion time on an upload.
func (s *Store) MarkUploadDeleted(ctx context.Context, blobName string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE uploads SET deleted_at=? WHERE blob_name=? AND deleted_at IS NULL;`, time.Now().UTC(), blobName)
	return err
}

// RecentUploads returns the latest uploads up to limit, newest first.
func (s *Store) RecentUploads(ctx context.Context, limit int) ([]UploadRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT blob_name, filename, mime_type, size, meta_json, created_at, deleted_at FROM uploads ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []UploadRecord
	for rows.Next() {
		var rec UploadRecord
		var mime, metaJSON sql.NullString
		var deleted sql.NullTime
		if err := rows.Scan(&rec.BlobName, &rec.Filename, &mime, &rec.Size, &metaJSON, &rec.CreatedAt, &deleted); err != nil {
			return nil, err
		}
		rec.MIME = mime.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta for %s: %w", rec.BlobName, err)
			}
		}
		if deleted.Valid {
			rec.DeletedAt = &deleted.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
