// Package identity resolves cross-platform user identity links. Links are
// written by an external linking flow; the relay only reads them.
package identity

import (
	"context"
	"database/sql"
	"fmt"
)

// Platform names used throughout the relay.
const (
	PlatformStream   = "stream"
	PlatformFactorio = "factorio"
)

// Link is a directional mapping from one platform's user id to another's.
// At most one link exists per (SourcePlatform, SourceUserID).
type Link struct {
	SourcePlatform string
	SourceUserID   string
	TargetPlatform string
	TargetUserID   string
}

// Store is the read-only lookup interface consumed by the relay pipelines.
//
// Resolve follows the stored primary-key direction and is unambiguous.
// ReverseResolve looks up by target identity; when more than one source maps
// to the same target the lookup reports found=false rather than guessing.
// A miss is not an error in either direction: it means no bridge is
// configured for that user.
type Store interface {
	Resolve(ctx context.Context, platform, userID string) (Link, bool, error)
	ReverseResolve(ctx context.Context, platform, userID string) (Link, bool, error)
}

// PostgresStore implements Store against the identity_links table.
type PostgresStore struct {
	DB *sql.DB
}

func (s *PostgresStore) Resolve(ctx context.Context, platform, userID string) (Link, bool, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT source_platform, source_user_id, target_platform, target_user_id
		 FROM identity_links WHERE source_platform=$1 AND source_user_id=$2`, platform, userID)
	var l Link
	err := row.Scan(&l.SourcePlatform, &l.SourceUserID, &l.TargetPlatform, &l.TargetUserID)
	if err == sql.ErrNoRows {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("resolve %s:%s: %w", platform, userID, err)
	}
	return l, true, nil
}

func (s *PostgresStore) ReverseResolve(ctx context.Context, platform, userID string) (Link, bool, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT source_platform, source_user_id, target_platform, target_user_id
		 FROM identity_links WHERE target_platform=$1 AND target_user_id=$2 LIMIT 2`, platform, userID)
	if err != nil {
		return Link{}, false, fmt.Errorf("reverse resolve %s:%s: %w", platform, userID, err)
	}
	defer rows.Close()

	var matches []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.SourcePlatform, &l.SourceUserID, &l.TargetPlatform, &l.TargetUserID); err != nil {
			return Link{}, false, err
		}
		matches = append(matches, l)
	}
	if err := rows.Err(); err != nil {
		return Link{}, false, err
	}
	// Ambiguous reverse mappings are rejected, not guessed.
	if len(matches) != 1 {
		return Link{}, false, nil
	}
	return matches[0], true, nil
}
