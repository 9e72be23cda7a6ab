package db

import (
	"context"
	"database/sql"
	"strconv"
)

// TailCheckpoint persists the log tailer's byte offset in the kv table so a
// restart resumes where the previous process stopped.
type TailCheckpoint struct {
	DB  *sql.DB
	Key string // kv key, e.g. "tail_offset"
}

// Load returns the stored offset, or 0 when none has been saved yet.
func (c *TailCheckpoint) Load(ctx context.Context) (int64, error) {
	v, err := GetKV(ctx, c.DB, c.Key)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// A corrupt value restarts the tail from the beginning rather than failing.
		return 0, nil
	}
	return n, nil
}

// Save stores the offset.
func (c *TailCheckpoint) Save(ctx context.Context, offset int64) error {
	return SetKV(ctx, c.DB, c.Key, strconv.FormatInt(offset, 10))
}
