package store

import (
	"context"

	"github.com/playbell/apiserver/types"
)

// CursorRepository persists the bot update offset next to the other
// collections so a restart resumes polling where it stopped.
type CursorRepository struct {
	cursor *Collection[types.BotCursor]
}

func NewCursorRepository(s *Store) *CursorRepository {
	return &CursorRepository{cursor: NewCollection[types.BotCursor](s, CursorCollection)}
}

func (r *CursorRepository) Get(ctx context.Context) (int64, error) {
	records, err := r.cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Offset, nil
}

// Set stores offset unless it would move the cursor backwards.
func (r *CursorRepository) Set(ctx context.Context, offset int64) error {
	return r.cursor.Update(ctx, func(records []types.BotCursor) ([]types.BotCursor, error) {
		if len(records) > 0 && records[0].Offset >= offset {
			return records, nil
		}
		return []types.BotCursor{{Offset: offset}}, nil
	})
}
