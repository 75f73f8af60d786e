package store

import (
	"context"
	"time"

	"github.com/playbell/apiserver/types"
)

// SongRepository handles persistence for the catalog.
type SongRepository struct {
	songs *Collection[types.Song]
	now   func() time.Time
}

func NewSongRepository(s *Store) *SongRepository {
	return &SongRepository{
		songs: NewCollection[types.Song](s, SongsCollection),
		now:   time.Now,
	}
}

func (r *SongRepository) List(ctx context.Context) ([]types.Song, error) {
	return r.songs.Load(ctx)
}

func (r *SongRepository) Get(ctx context.Context, id int) (types.Song, error) {
	songs, err := r.songs.Load(ctx)
	if err != nil {
		return types.Song{}, err
	}
	if i := indexOf(songs, songByID(id)); i >= 0 {
		return songs[i], nil
	}
	return types.Song{}, ErrNotFound
}

func (r *SongRepository) Create(ctx context.Context, song types.Song) (types.Song, error) {
	err := r.songs.Update(ctx, func(songs []types.Song) ([]types.Song, error) {
		song.ID = nextID(songs, func(s types.Song) int { return s.ID })
		song.CreatedAt = r.now()
		return append(songs, song), nil
	})
	if err != nil {
		return types.Song{}, err
	}
	return song, nil
}

func (r *SongRepository) Mutate(ctx context.Context, id int, fn func(*types.Song) error) (types.Song, error) {
	var updated types.Song
	err := r.songs.Update(ctx, func(songs []types.Song) ([]types.Song, error) {
		i := indexOf(songs, songByID(id))
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := fn(&songs[i]); err != nil {
			return nil, err
		}
		updated = songs[i]
		return songs, nil
	})
	if err != nil {
		return types.Song{}, err
	}
	return updated, nil
}

func (r *SongRepository) Delete(ctx context.Context, id int) (types.Song, error) {
	var removed types.Song
	err := r.songs.Update(ctx, func(songs []types.Song) ([]types.Song, error) {
		i := indexOf(songs, songByID(id))
		if i < 0 {
			return nil, ErrNotFound
		}
		removed = songs[i]
		return append(songs[:i], songs[i+1:]...), nil
	})
	if err != nil {
		return types.Song{}, err
	}
	return removed, nil
}

func songByID(id int) func(types.Song) bool {
	return func(s types.Song) bool { return s.ID == id }
}
