package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/mlenoir/authvault/internal/common"
	"github.com/mlenoir/authvault/internal/cryptox"
	"github.com/mlenoir/authvault/internal/dbx"
	"github.com/mlenoir/authvault/internal/logging"
	"github.com/mlenoir/authvault/internal/server/auth"
	"github.com/mlenoir/authvault/internal/server/config"
	"github.com/mlenoir/authvault/internal/server/models"
	secretsrepo "github.com/mlenoir/authvault/internal/server/repositories/sessionsecrets"
	usersrepo "github.com/mlenoir/authvault/internal/server/repositories/users"
	"github.com/mlenoir/authvault/internal/server/services"
)

// In-memory repositories so handler tests exercise the real service and
// router without a database.

type memUsersRepo struct {
	byID map[string]*models.User
	seq  int
}

func (f *memUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	for _, existing := range f.byID {
		if existing.Username == u.Username || existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.seq++
	u.ID = fmt.Sprintf("u-%d", f.seq)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	clone := *u
	f.byID[u.ID] = &clone
	return u, nil
}

func (f *memUsersRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.byID[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) List(ctx context.Context) ([]*models.User, error) {
	var out []*models.User
	for _, u := range f.byID {
		clone := *u
		out = append(out, &clone)
	}
	return out, nil
}

func (f *memUsersRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

type memSecretsRepo struct {
	byUserID map[string]*models.SessionSecret
	seq      int
}

func (f *memSecretsRepo) GetByUserID(ctx context.Context, userID string) (*models.SessionSecret, error) {
	if s, ok := f.byUserID[userID]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, common.ErrorNotFound
}

func (f *memSecretsRepo) GetByUserIDForUpdate(ctx context.Context, userID string) (*models.SessionSecret, error) {
	return f.GetByUserID(ctx, userID)
}

func (f *memSecretsRepo) record(userID string) *models.SessionSecret {
	if s, ok := f.byUserID[userID]; ok {
		return s
	}
	f.seq++
	s := &models.SessionSecret{ID: fmt.Sprintf("s-%d", f.seq), UserID: userID}
	f.byUserID[userID] = s
	return s
}

func (f *memSecretsRepo) SaveRefreshToken(ctx context.Context, userID, ciphertext string) error {
	f.record(userID).EncryptedRefreshToken = ciphertext
	return nil
}

func (f *memSecretsRepo) SaveBio(ctx context.Context, userID, ciphertext string) error {
	f.record(userID).EncryptedBio = ciphertext
	return nil
}

type memRepoManager struct {
	u *memUsersRepo
	s *memSecretsRepo
}

func (m *memRepoManager) Users(db dbx.DBTX) usersrepo.Repository             { return m.u }
func (m *memRepoManager) SessionSecrets(db dbx.DBTX) secretsrepo.Repository  { return m.s }
func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }

type testEnv struct {
	router *chi.Mux
	mock   sqlmock.Sqlmock
	rm     *memRepoManager
	svc    *services.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"

	rm := &memRepoManager{
		u: &memUsersRepo{byID: map[string]*models.User{}},
		s: &memSecretsRepo{byUserID: map[string]*models.SessionSecret{}},
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc, err := services.NewUserService(db, rm, cfg, logger)
	if err != nil {
		t.Fatalf("NewUserService error: %v", err)
	}
	return &testEnv{
		router: NewRouter(svc, db, logger),
		mock:   mock,
		rm:     rm,
		svc:    svc,
	}
}

func (e *testEnv) expectTx(commit bool) {
	e.mock.ExpectBegin()
	if commit {
		e.mock.ExpectCommit()
	} else {
		e.mock.ExpectRollback()
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, username, email, password, bio string) {
	t.Helper()
	e.expectTx(true)
	rec := e.do(t, http.MethodPost, "/register", "", registerRequest{
		Username: username, Email: email, Password: password, Bio: bio,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) login(t *testing.T, username, password string) tokenResponse {
	t.Helper()
	e.expectTx(true)
	rec := e.do(t, http.MethodPost, "/login", "", loginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var tokens tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return tokens
}

func TestRegisterEndpoint(t *testing.T) {
	e := newTestEnv(t)

	e.expectTx(true)
	rec := e.do(t, http.MethodPost, "/register", "", registerRequest{
		Username: "alice", Email: "alice@x.test", Password: "Pw12345", Bio: "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, leak := range []string{"password", "hash", "encryption_key"} {
		if strings.Contains(body, leak) {
			t.Fatalf("response leaks %q: %s", leak, body)
		}
	}

	// Duplicate username.
	rec = e.do(t, http.MethodPost, "/register", "", registerRequest{
		Username: "alice", Email: "other@x.test", Password: "Pw12345",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate: want 400, got %d", rec.Code)
	}

	// Missing fields.
	rec = e.do(t, http.MethodPost, "/register", "", registerRequest{Username: "bob"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: want 400, got %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "alice@x.test", "Pw12345", "")

	tokens := e.login(t, "alice", "Pw12345")
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.TokenType != "bearer" {
		t.Fatalf("unexpected token response: %+v", tokens)
	}

	rec := e.do(t, http.MethodPost, "/login", "", loginRequest{Username: "alice", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: want 401, got %d", rec.Code)
	}
}

func TestRefreshEndpoint_Rotation(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "alice@x.test", "Pw12345", "")
	first := e.login(t, "alice", "Pw12345")

	e.expectTx(true)
	rec := e.do(t, http.MethodPost, "/refresh", first.RefreshToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var second tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// Replaying the stale token is rejected.
	e.expectTx(false)
	rec = e.do(t, http.MethodPost, "/refresh", first.RefreshToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale refresh: want 401, got %d", rec.Code)
	}

	// Access tokens are not accepted for rotation.
	rec = e.do(t, http.MethodPost, "/refresh", second.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token refresh: want 401, got %d", rec.Code)
	}

	// No bearer token at all.
	rec = e.do(t, http.MethodPost, "/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "alice@x.test", "Pw12345", "")
	tokens := e.login(t, "alice", "Pw12345")

	rec := e.do(t, http.MethodPost, "/logout", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	e.expectTx(false)
	rec = e.do(t, http.MethodPost, "/refresh", tokens.RefreshToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: want 401, got %d", rec.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "alice@x.test", "Pw12345", "first bio")
	tokens := e.login(t, "alice", "Pw12345")

	rec := e.do(t, http.MethodGet, "/profile", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var profile profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != "alice" || profile.Bio != "first bio" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	rec = e.do(t, http.MethodPut, "/profile", tokens.AccessToken, updateProfileRequest{Bio: "second bio"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodGet, "/profile", tokens.AccessToken, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Bio != "second bio" {
		t.Fatalf("bio not updated: %+v", profile)
	}

	// No token.
	rec = e.do(t, http.MethodGet, "/profile", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", rec.Code)
	}

	// Garbage token.
	rec = e.do(t, http.MethodGet, "/profile", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: want 401, got %d", rec.Code)
	}

	// A refresh token is not a bearer access credential.
	rec = e.do(t, http.MethodGet, "/profile", tokens.RefreshToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token on access endpoint: want 401, got %d", rec.Code)
	}
}

func TestAdminEndpoints_ScopeEnforcement(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "alice@x.test", "Pw12345", "")
	userTokens := e.login(t, "alice", "Pw12345")

	// A regular user holds read:profile only; admin routes refuse it.
	rec := e.do(t, http.MethodGet, "/admin/users", userTokens.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: want 403, got %d", rec.Code)
	}

	// Promote a second account to admin directly in the store, the way
	// the createadmin command does.
	hash, err := cryptox.HashPassword("Adm12345")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if _, err := e.rm.u.Create(context.Background(), &models.User{
		Username:      "root",
		Email:         "root@x.test",
		PasswordHash:  hash,
		Role:          auth.RoleAdmin,
		EncryptionKey: cryptox.GenerateUserKey(),
	}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminTokens := e.login(t, "root", "Adm12345")

	rec = e.do(t, http.MethodGet, "/admin/users", adminTokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var list []userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 users, got %d", len(list))
	}

	// Delete alice; her id is discoverable from the listing.
	var aliceID string
	for _, u := range list {
		if u.Username == "alice" {
			aliceID = u.ID
		}
	}
	rec = e.do(t, http.MethodDelete, "/admin/users/"+aliceID, adminTokens.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin delete: want 204, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodDelete, "/admin/users/"+aliceID, adminTokens.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete again: want 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	e.mock.ExpectPing()
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	e.mock.ExpectPing().WillReturnError(fmt.Errorf("db down"))
	rec = e.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz down: want 503, got %d", rec.Code)
	}
}
