package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/internal/storage"
	"github.com/playbell/apiserver/internal/store"
	"github.com/playbell/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	router   http.Handler
	accounts *services.AccountService
	catalog  *services.CatalogService
	sessions *Sessions
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	s := store.New(backend)
	objects, err := storage.NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("new local client: %v", err)
	}
	assets := storage.NewAssetStore(objects, storage.AudioTypes...)

	accounts := services.NewAccountService(store.NewAccountRepository(s), notify.Nop{}, services.AccountOptions{
		BcryptCost:        bcrypt.MinCost,
		PasswordMinLength: 6,
	})
	catalog := services.NewCatalogService(store.NewSongRepository(s), store.NewRequestRepository(s), assets, notify.Nop{})
	sessions, err := NewSessions("test-secret", time.Hour, false)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}

	router := chi.NewRouter()
	Register(router, accounts, catalog, assets, sessions)
	return &testServer{router: router, accounts: accounts, catalog: catalog, sessions: sessions}
}

// account registers username, verifies it, sets its role and returns a
// bearer token for it.
func (ts *testServer) account(t *testing.T, username string, role types.Role) string {
	t.Helper()
	ctx := context.Background()
	if _, err := ts.accounts.Register(ctx, services.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret1",
	}); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if _, err := ts.accounts.SetVerified(ctx, username, true); err != nil {
		t.Fatalf("verify %s: %v", username, err)
	}
	if role != types.RoleUser {
		if _, err := ts.accounts.SetRole(ctx, username, role); err != nil {
			t.Fatalf("set role %s: %v", username, err)
		}
	}
	rec := ts.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, LoginRequest{Username: username, Password: "secret1"}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	decodeBody(t, rec, &resp)
	return resp.Token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func mp3Bytes() []byte {
	return append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
}

// songForm builds a multipart body with optional title/artist and file.
func songForm(t *testing.T, fields map[string]string, file []byte, fileType string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="song.mp3"`)
		h.Set("Content-Type", fileType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(file); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, RegisterRequest{
		Name: "Alice", Username: "alice", Email: "alice@example.com", Password: "secret1",
	}), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret1") || strings.Contains(strings.ToLower(rec.Body.String()), "hash") {
		t.Fatalf("register response leaks credentials: %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "secret1",
	}), "application/json")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/auth/register", "", jsonBody(t, RegisterRequest{
		Username: "longpass", Password: strings.Repeat("x", 73),
	}), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("over-long password: expected 400, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, LoginRequest{Username: "alice", Password: "secret1"}), "")
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "not verified") {
		t.Fatalf("unverified login: status %d body %s", rec.Code, rec.Body.String())
	}

	if _, err := ts.accounts.SetVerified(context.Background(), "alice", true); err != nil {
		t.Fatalf("verify: %v", err)
	}
	rec = ts.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, LoginRequest{Username: "alice", Password: "wrong"}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/auth/login", "", jsonBody(t, LoginRequest{Username: "alice", Password: "secret1"}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", rec.Result().Cookies())
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	ts.router.ServeHTTP(me, req)
	if me.Code != http.StatusOK {
		t.Fatalf("me: status %d", me.Code)
	}
	var view types.AccountView
	decodeBody(t, me, &view)
	if view.Username != "alice" || view.Role != types.RoleUser {
		t.Fatalf("unexpected profile: %+v", view)
	}
}

func TestAnonymousRedirectsAndForbidden(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/songs", "", nil, "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != loginPath {
		t.Fatalf("anonymous: expected redirect to login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	user := ts.account(t, "bob", types.RoleUser)
	rec = ts.do(t, http.MethodGet, "/admin/songs", user, nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: expected 403, got %d", rec.Code)
	}
	var body ErrorResponse
	decodeBody(t, rec, &body)
	if body.Error != "forbidden" {
		t.Fatalf("unexpected forbidden body: %+v", body)
	}

	admin := ts.account(t, "carol", types.RoleAdmin)
	rec = ts.do(t, http.MethodGet, "/superadmin/accounts", admin, nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin on superadmin route: expected 403, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/requests", admin, jsonBody(t, SongRequestRequest{Title: "t", Artist: "a"}), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin submitting request: expected 403, got %d", rec.Code)
	}
}

func TestRoleChangeAppliesToExistingSession(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.account(t, "dave", types.RoleAdmin)

	if rec := ts.do(t, http.MethodGet, "/admin/songs", admin, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("admin songs: expected 200, got %d", rec.Code)
	}
	if _, err := ts.accounts.DeleteAccount(context.Background(), "dave"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec := ts.do(t, http.MethodGet, "/admin/songs", admin, nil, ""); rec.Code != http.StatusSeeOther {
		t.Fatalf("deleted account: expected redirect, got %d", rec.Code)
	}
}

func TestSongLifecycle(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.account(t, "erin", types.RoleAdmin)
	user := ts.account(t, "frank", types.RoleUser)

	body, ct := songForm(t, map[string]string{"title": "Bell", "artist": "Ringer"}, nil, "")
	rec := ts.do(t, http.MethodPost, "/admin/songs", admin, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", rec.Code)
	}

	body, ct = songForm(t, map[string]string{"title": "Bell", "artist": "Ringer"}, []byte("plain text"), "text/plain")
	rec = ts.do(t, http.MethodPost, "/admin/songs", admin, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong type: expected 400, got %d", rec.Code)
	}

	body, ct = songForm(t, map[string]string{"title": "Bell", "artist": "Ringer"}, mp3Bytes(), "audio/mpeg")
	rec = ts.do(t, http.MethodPost, "/admin/songs", admin, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add song: status %d body %s", rec.Code, rec.Body.String())
	}
	var song types.Song
	decodeBody(t, rec, &song)
	if song.ID != 1 || !strings.HasPrefix(song.URL, storage.URLPrefix) {
		t.Fatalf("unexpected song: %+v", song)
	}

	rec = ts.do(t, http.MethodGet, song.URL, user, nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "audio/mpeg" || !bytes.Equal(rec.Body.Bytes(), mp3Bytes()) {
		t.Fatalf("serve upload: status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = ts.do(t, http.MethodPost, "/admin/songs/1/mute", admin, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mute: status %d", rec.Code)
	}

	var songs []types.Song
	rec = ts.do(t, http.MethodGet, "/songs", user, nil, "")
	decodeBody(t, rec, &songs)
	if len(songs) != 0 {
		t.Fatalf("user should not see muted songs, got %+v", songs)
	}
	rec = ts.do(t, http.MethodGet, "/admin/songs", admin, nil, "")
	decodeBody(t, rec, &songs)
	if len(songs) != 1 || !songs[0].Muted {
		t.Fatalf("admin should see muted song, got %+v", songs)
	}

	rec = ts.do(t, http.MethodDelete, "/admin/songs/1", admin, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	var deleted DeleteSongResponse
	decodeBody(t, rec, &deleted)
	if deleted.Song.ID != 1 || deleted.Warning != "" {
		t.Fatalf("unexpected delete response: %+v", deleted)
	}
	if rec := ts.do(t, http.MethodGet, song.URL, user, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted upload: expected 404, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/admin/songs/1", admin, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestRequestApproveAndReject(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.account(t, "gina", types.RoleAdmin)
	user := ts.account(t, "hank", types.RoleUser)

	for _, title := range []string{"First", "Second"} {
		rec := ts.do(t, http.MethodPost, "/requests", user, jsonBody(t, SongRequestRequest{Title: title, Artist: "Band"}), "")
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit %s: status %d body %s", title, rec.Code, rec.Body.String())
		}
		var created types.SongRequest
		decodeBody(t, rec, &created)
		if created.RequestedBy != "hank" {
			t.Fatalf("expected requester hank, got %q", created.RequestedBy)
		}
	}

	body, ct := songForm(t, nil, nil, "")
	if rec := ts.do(t, http.MethodPost, "/admin/requests/1/approve", admin, body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("approve without file: expected 400, got %d", rec.Code)
	}

	body, ct = songForm(t, nil, mp3Bytes(), "audio/mpeg")
	rec := ts.do(t, http.MethodPost, "/admin/requests/1/approve", admin, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body.String())
	}
	var song types.Song
	decodeBody(t, rec, &song)
	if song.Title != "First" || song.Artist != "Band" {
		t.Fatalf("unexpected approved song: %+v", song)
	}

	if rec := ts.do(t, http.MethodPost, "/admin/requests/2/reject", admin, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reject: expected 204, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/admin/requests/2/reject", admin, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second reject: expected 404, got %d", rec.Code)
	}

	var pending []types.SongRequest
	rec = ts.do(t, http.MethodGet, "/admin/requests", admin, nil, "")
	decodeBody(t, rec, &pending)
	if len(pending) != 0 {
		t.Fatalf("expected no pending requests, got %+v", pending)
	}
}

func TestAccountManagement(t *testing.T) {
	ts := newTestServer(t)
	super := ts.account(t, "root", types.RoleSuperadmin)
	ts.account(t, "ivy", types.RoleUser)
	if _, err := ts.accounts.Register(context.Background(), services.RegisterInput{
		Username: "jack", Email: "jack@example.com", Password: "secret1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var views []types.AccountView
	rec := ts.do(t, http.MethodGet, "/superadmin/accounts?status=pending", super, nil, "")
	decodeBody(t, rec, &views)
	if len(views) != 1 || views[0].Username != "jack" {
		t.Fatalf("unexpected pending accounts: %+v", views)
	}

	rec = ts.do(t, http.MethodPost, "/superadmin/accounts/ivy/role", super, jsonBody(t, SetRoleRequest{Role: types.RoleAdmin}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: status %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/superadmin/accounts/ivy/role", super, jsonBody(t, SetRoleRequest{Role: "owner"}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: expected 400, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/superadmin/accounts/root/role", super, jsonBody(t, SetRoleRequest{Role: types.RoleAdmin}), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("demote last superadmin: expected 403, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/superadmin/accounts/root", super, nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete superadmin: expected 403, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/superadmin/accounts/jack/password", super, jsonBody(t, AdminPasswordRequest{Password: "123"}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/superadmin/accounts/jack", super, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete jack: status %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/superadmin/accounts/jack", super, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing: expected 404, got %d", rec.Code)
	}
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	ts := newTestServer(t)
	ts.account(t, "kate", types.RoleUser)

	known := ts.do(t, http.MethodPost, "/auth/forgot-password", "", jsonBody(t, ForgotPasswordRequest{Email: "kate@example.com"}), "")
	unknown := ts.do(t, http.MethodPost, "/auth/forgot-password", "", jsonBody(t, ForgotPasswordRequest{Email: "nobody@example.com"}), "")
	if known.Code != http.StatusAccepted || unknown.Code != known.Code || known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses differ: %d %q vs %d %q", known.Code, known.Body.String(), unknown.Code, unknown.Body.String())
	}

	if rec := ts.do(t, http.MethodGet, "/auth/reset-password?token=bogus", "", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: expected 401, got %d", rec.Code)
	}
}

func TestChangePasswordAndLogout(t *testing.T) {
	ts := newTestServer(t)
	token := ts.account(t, "liam", types.RoleUser)

	rec := ts.do(t, http.MethodPost, "/auth/change-password", token, jsonBody(t, ChangePasswordRequest{OldPassword: "nope", NewPassword: "secret2"}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong old password: expected 401, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/auth/change-password", token, jsonBody(t, ChangePasswordRequest{OldPassword: "secret1", NewPassword: "secret2"}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: status %d body %s", rec.Code, rec.Body.String())
	}
	if _, err := ts.accounts.Login(context.Background(), "liam", "secret2"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	rec = ts.do(t, http.MethodPost, "/auth/logout", "", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookies)
	}
}

func TestSessionsRejectTamperedAndExpiredTokens(t *testing.T) {
	sessions, err := NewSessions("secret", time.Minute, false)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	token, err := sessions.Issue(httptest.NewRecorder(), services.Session{ID: 7, Username: "mia", Role: types.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if id, ok := sessions.AccountID(req); !ok || id != 7 {
		t.Fatalf("expected account 7, got %d %v", id, ok)
	}

	req.Header.Set("Authorization", "Bearer "+token+"x")
	if _, ok := sessions.AccountID(req); ok {
		t.Fatalf("tampered token accepted")
	}

	sessions.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	req.Header.Set("Authorization", "Bearer "+token)
	if _, ok := sessions.AccountID(req); ok {
		t.Fatalf("expired token accepted")
	}

	if _, err := NewSessions(" ", time.Minute, false); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}
