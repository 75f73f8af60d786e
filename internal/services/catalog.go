package services

import (
	"context"
	"errors"
	"strings"

	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/internal/policy"
	"github.com/playbell/apiserver/internal/storage"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

// SongRepository defines persistence operations for songs.
type SongRepository interface {
	List(ctx context.Context) ([]types.Song, error)
	Create(ctx context.Context, song types.Song) (types.Song, error)
	Mutate(ctx context.Context, id int, fn func(*types.Song) error) (types.Song, error)
	Delete(ctx context.Context, id int) (types.Song, error)
}

// RequestRepository defines persistence operations for song requests.
type RequestRepository interface {
	List(ctx context.Context) ([]types.SongRequest, error)
	Get(ctx context.Context, id int) (types.SongRequest, error)
	Create(ctx context.Context, req types.SongRequest) (types.SongRequest, error)
	Delete(ctx context.Context, id int) (types.SongRequest, error)
	Consume(ctx context.Context, id int, fn func(types.SongRequest) error) (types.SongRequest, error)
}

// AssetStore persists uploaded audio and hands back a reference.
type AssetStore interface {
	Store(ctx context.Context, up storage.Upload) (string, error)
	Release(ctx context.Context, ref string) error
}

// CatalogService manages songs and the request workflow that feeds them.
type CatalogService struct {
	songs    SongRepository
	requests RequestRepository
	assets   AssetStore
	notifier notify.Notifier
}

func NewCatalogService(songs SongRepository, requests RequestRepository, assets AssetStore, notifier notify.Notifier) *CatalogService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &CatalogService{
		songs:    songs,
		requests: requests,
		assets:   assets,
		notifier: notifier,
	}
}

// ListSongs returns the songs p is allowed to see.
func (s *CatalogService) ListSongs(ctx context.Context, p *policy.Principal) ([]types.Song, error) {
	songs, err := s.songs.List(ctx)
	if err != nil {
		return nil, err
	}
	return policy.VisibleSongs(p, songs), nil
}

// AddSong stores the upload, then records the song. A failed record write
// releases the stored asset.
func (s *CatalogService) AddSong(ctx context.Context, title, artist string, up *storage.Upload) (types.Song, error) {
	title, artist, err := songFields(title, artist)
	if err != nil {
		return types.Song{}, err
	}
	ref, err := s.storeAsset(ctx, up)
	if err != nil {
		return types.Song{}, err
	}

	song, err := s.songs.Create(ctx, types.Song{Title: title, Artist: artist, URL: ref})
	if err != nil {
		s.release(ctx, ref)
		return types.Song{}, err
	}
	logger.Infof("catalog: added song %d %q", song.ID, song.Title)
	return song, nil
}

// ToggleMute flips the muted flag.
func (s *CatalogService) ToggleMute(ctx context.Context, id int) (types.Song, error) {
	return s.songs.Mutate(ctx, id, func(song *types.Song) error {
		song.Muted = !song.Muted
		return nil
	})
}

// DeleteSong removes the record, then its asset. When only the asset
// removal fails, the removed song is returned with an *AssetReleaseError.
func (s *CatalogService) DeleteSong(ctx context.Context, id int) (types.Song, error) {
	removed, err := s.songs.Delete(ctx, id)
	if err != nil {
		return types.Song{}, err
	}
	if err := s.assets.Release(ctx, removed.URL); err != nil {
		logger.Warningf("catalog: song %d deleted but asset %s remains: %v", removed.ID, removed.URL, err)
		return removed, &AssetReleaseError{Ref: removed.URL, Err: err}
	}
	logger.Infof("catalog: deleted song %d", removed.ID)
	return removed, nil
}

func (s *CatalogService) SubmitRequest(ctx context.Context, title, artist, requestedBy string) (types.SongRequest, error) {
	title, artist, err := songFields(title, artist)
	if err != nil {
		return types.SongRequest{}, err
	}
	req, err := s.requests.Create(ctx, types.SongRequest{
		Title:       title,
		Artist:      artist,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return types.SongRequest{}, err
	}
	s.notifier.NotifySongRequest(req)
	return req, nil
}

func (s *CatalogService) ListRequests(ctx context.Context) ([]types.SongRequest, error) {
	return s.requests.List(ctx)
}

// ApproveRequest turns a pending request into a song backed by up. The song
// is created and the request removed under the requests lock; any failure
// after the asset is stored undoes what was written.
func (s *CatalogService) ApproveRequest(ctx context.Context, id int, up *storage.Upload) (types.Song, error) {
	if up == nil {
		return types.Song{}, invalid("file", ErrMissingAsset)
	}
	if _, err := s.requests.Get(ctx, id); err != nil {
		return types.Song{}, err
	}
	ref, err := s.storeAsset(ctx, up)
	if err != nil {
		return types.Song{}, err
	}

	var song types.Song
	_, err = s.requests.Consume(ctx, id, func(req types.SongRequest) error {
		created, err := s.songs.Create(ctx, types.Song{Title: req.Title, Artist: req.Artist, URL: ref})
		if err != nil {
			return err
		}
		song = created
		return nil
	})
	if err != nil {
		if song.ID != 0 {
			if _, derr := s.songs.Delete(ctx, song.ID); derr != nil {
				logger.Errorf("catalog: approve %d failed and song %d could not be removed: %v", id, song.ID, derr)
			}
		}
		s.release(ctx, ref)
		return types.Song{}, err
	}
	logger.Infof("catalog: approved request %d as song %d", id, song.ID)
	return song, nil
}

// RejectRequest discards a pending request.
func (s *CatalogService) RejectRequest(ctx context.Context, id int) error {
	_, err := s.requests.Delete(ctx, id)
	return err
}

func (s *CatalogService) storeAsset(ctx context.Context, up *storage.Upload) (string, error) {
	if up == nil || up.Body == nil {
		return "", invalid("file", ErrMissingAsset)
	}
	ref, err := s.assets.Store(ctx, *up)
	if errors.Is(err, storage.ErrRejectedType) {
		return "", invalid("file", err)
	}
	return ref, err
}

func (s *CatalogService) release(ctx context.Context, ref string) {
	if err := s.assets.Release(ctx, ref); err != nil {
		logger.Warningf("catalog: release asset %s: %v", ref, err)
	}
}

func songFields(title, artist string) (string, string, error) {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	if title == "" {
		return "", "", invalid("title", ErrRequired)
	}
	if artist == "" {
		return "", "", invalid("artist", ErrRequired)
	}
	return title, artist, nil
}
