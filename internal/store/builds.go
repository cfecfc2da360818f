// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildRecord is one image build (or cache reuse).
type BuildRecord struct {
	ID           uuid.UUID
	Name         string
	Digest       string
	Tag          string
	BaseImage    string
	ResolvedBase string
	ImageID      string
	Engine       string
	CacheHit     bool
	Duration     time.Duration
	// Packages is the installed package snapshot as "name=version" lines,
	// in descriptor order.
	Packages  []string
	CreatedAt time.Time
}

// RecordBuild stores rec and its package snapshot. A zero ID is replaced
// with a fresh UUIDv7 and a zero CreatedAt with the current time; the
// stored record is returned.
func (s *Store) RecordBuild(ctx context.Context, rec BuildRecord) (BuildRecord, error) {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return BuildRecord{}, fmt.Errorf("generate build id: %w", err)
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BuildRecord{}, fmt.Errorf("record build: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds(id, name, digest, tag, base_image, resolved_base, image_id, engine, cache_hit, duration_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Name, rec.Digest, rec.Tag, rec.BaseImage, rec.ResolvedBase,
		rec.ImageID, rec.Engine, boolInt(rec.CacheHit), rec.Duration.Milliseconds(), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return BuildRecord{}, fmt.Errorf("record build: %w", err)
	}
	for i, pkg := range rec.Packages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO build_packages(build_id, position, package) VALUES(?, ?, ?)`,
			rec.ID.String(), i, pkg,
		); err != nil {
			return BuildRecord{}, fmt.Errorf("record build package %q: %w", pkg, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return BuildRecord{}, fmt.Errorf("record build: %w", err)
	}
	return rec, nil
}

// LatestBuild returns the most recent build of a descriptor digest that
// has a package snapshot. Cache hits without a snapshot are skipped.
func (s *Store) LatestBuild(ctx context.Context, digest string) (*BuildRecord, error) {
	builds, err := s.queryBuilds(ctx, `
		SELECT id, name, digest, tag, base_image, resolved_base, image_id, engine, cache_hit, duration_ms, created_at
		FROM builds
		WHERE digest = ? AND EXISTS (SELECT 1 FROM build_packages p WHERE p.build_id = builds.id)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, digest)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("build of %s: %w", digest, ErrNotFound)
	}
	return &builds[0], nil
}

// ListBuilds returns up to limit builds, newest first. limit <= 0 means all.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	return s.queryBuilds(ctx, `
		SELECT id, name, digest, tag, base_image, resolved_base, image_id, engine, cache_hit, duration_ms, created_at
		FROM builds
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, normalizeLimit(limit))
}

func (s *Store) queryBuilds(ctx context.Context, query string, args ...any) ([]BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []BuildRecord
	for rows.Next() {
		var (
			rec            BuildRecord
			id, created    string
			cacheHit       int
			durationMillis int64
		)
		if err := rows.Scan(&id, &rec.Name, &rec.Digest, &rec.Tag, &rec.BaseImage, &rec.ResolvedBase,
			&rec.ImageID, &rec.Engine, &cacheHit, &durationMillis, &created); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("build id %q: %w", id, err)
		}
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		rec.CacheHit = cacheHit != 0
		rec.Duration = time.Duration(durationMillis) * time.Millisecond
		builds = append(builds, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	// Package rows are read after the build cursor is closed; an in-memory
	// store has a single connection.
	rows.Close()

	for i := range builds {
		pkgs, err := s.buildPackages(ctx, builds[i].ID)
		if err != nil {
			return nil, err
		}
		builds[i].Packages = pkgs
	}
	return builds, nil
}

func (s *Store) buildPackages(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package FROM build_packages WHERE build_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query build packages: %w", err)
	}
	defer rows.Close()

	var pkgs []string
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, fmt.Errorf("scan build package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query build packages: %w", err)
	}
	return pkgs, nil
}
