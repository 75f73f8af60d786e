package store

import (
	"context"
	"time"

	"github.com/playbell/apiserver/types"
)

// RequestRepository handles persistence for song requests.
type RequestRepository struct {
	requests *Collection[types.SongRequest]
	now      func() time.Time
}

func NewRequestRepository(s *Store) *RequestRepository {
	return &RequestRepository{
		requests: NewCollection[types.SongRequest](s, RequestsCollection),
		now:      time.Now,
	}
}

func (r *RequestRepository) List(ctx context.Context) ([]types.SongRequest, error) {
	return r.requests.Load(ctx)
}

func (r *RequestRepository) Get(ctx context.Context, id int) (types.SongRequest, error) {
	requests, err := r.requests.Load(ctx)
	if err != nil {
		return types.SongRequest{}, err
	}
	if i := indexOf(requests, requestByID(id)); i >= 0 {
		return requests[i], nil
	}
	return types.SongRequest{}, ErrNotFound
}

func (r *RequestRepository) Create(ctx context.Context, req types.SongRequest) (types.SongRequest, error) {
	err := r.requests.Update(ctx, func(requests []types.SongRequest) ([]types.SongRequest, error) {
		req.ID = nextID(requests, func(q types.SongRequest) int { return q.ID })
		req.CreatedAt = r.now()
		return append(requests, req), nil
	})
	if err != nil {
		return types.SongRequest{}, err
	}
	return req, nil
}

func (r *RequestRepository) Delete(ctx context.Context, id int) (types.SongRequest, error) {
	return r.Consume(ctx, id, nil)
}

// Consume removes the request after fn succeeds, all under the requests
// lock. fn may take other collection locks (e.g. songs); callers must
// always acquire requests before songs.
func (r *RequestRepository) Consume(ctx context.Context, id int, fn func(types.SongRequest) error) (types.SongRequest, error) {
	var removed types.SongRequest
	err := r.requests.Update(ctx, func(requests []types.SongRequest) ([]types.SongRequest, error) {
		i := indexOf(requests, requestByID(id))
		if i < 0 {
			return nil, ErrNotFound
		}
		if fn != nil {
			if err := fn(requests[i]); err != nil {
				return nil, err
			}
		}
		removed = requests[i]
		return append(requests[:i], requests[i+1:]...), nil
	})
	if err != nil {
		return types.SongRequest{}, err
	}
	return removed, nil
}

func requestByID(id int) func(types.SongRequest) bool {
	return func(q types.SongRequest) bool { return q.ID == id }
}
