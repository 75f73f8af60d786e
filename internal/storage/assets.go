package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is prepended to object keys to form the asset reference stored
// on a Song and served by the uploads route.
const URLPrefix = "/uploads/"

// AudioTypes is the upload allow-list.
var AudioTypes = []string{"audio/mpeg"}

var (
	// ErrRejectedType is returned when an upload is outside the allow-list.
	ErrRejectedType = errors.New("file type not allowed")
	// ErrInvalidRef is returned for references that were not produced by Store.
	ErrInvalidRef = errors.New("invalid asset reference")
)

var extensions = map[string]string{
	"audio/mpeg": ".mp3",
}

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AssetStore stores uploaded binaries on an ObjectStorage backend and
// enforces the content type allow-list.
type AssetStore struct {
	objects ObjectStorage
	allowed map[string]bool
	newKey  func() string
}

// NewAssetStore constructs an AssetStore accepting only allowedTypes.
func NewAssetStore(objects ObjectStorage, allowedTypes ...string) *AssetStore {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	return &AssetStore{
		objects: objects,
		allowed: allowed,
		newKey:  uuid.NewString,
	}
}

// Store validates the upload type and writes it under a fresh key. The
// returned reference is only valid once the object is fully written.
func (a *AssetStore) Store(ctx context.Context, up Upload) (string, error) {
	if up.Body == nil {
		return "", errors.New("upload body is required")
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	contentType, ok := a.detect(up.ContentType, head)
	if !ok {
		return "", ErrRejectedType
	}

	key := a.newKey() + extensions[contentType]
	body := io.MultiReader(bytes.NewReader(head), up.Body)
	if err := a.objects.Put(ctx, key, body, up.Size, contentType); err != nil {
		return "", fmt.Errorf("store asset: %w", err)
	}
	return URLPrefix + key, nil
}

// Release deletes the object behind ref.
func (a *AssetStore) Release(ctx context.Context, ref string) error {
	key, err := KeyFromRef(ref)
	if err != nil {
		return err
	}
	return a.objects.Delete(ctx, key)
}

// Open streams the object stored under key.
func (a *AssetStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" || path.Base(key) != key {
		return nil, ErrInvalidRef
	}
	return a.objects.Get(ctx, key)
}

// detect accepts the upload when either the declared or the sniffed media
// type is in the allow-list and returns the canonical type.
func (a *AssetStore) detect(declared string, head []byte) (string, bool) {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = strings.ToLower(mediaType)
		if a.allowed[mediaType] {
			return mediaType, true
		}
	}
	sniffed := strings.ToLower(http.DetectContentType(head))
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil && a.allowed[mediaType] {
		return mediaType, true
	}
	return "", false
}

// KeyFromRef extracts the object key from an asset reference.
func KeyFromRef(ref string) (string, error) {
	key, ok := strings.CutPrefix(ref, URLPrefix)
	if !ok || key == "" || path.Base(key) != key {
		return "", ErrInvalidRef
	}
	return key, nil
}
