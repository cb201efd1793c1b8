package school_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/guard"
	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/internal/school"
	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/internal/view"
	_ "github.com/schoolhub/schoolhub/testing"
)

var accounts = map[string]struct {
	id   int
	role string
}{
	"admin@school.test":  {1, "Admin"},
	"user@school.test":   {2, "User"},
	"viewer@school.test": {3, "Viewer"},
}

// fakeService mimics the data service. Tokens listed in stale are rejected
// with 401 until a refresh replaces them.
type fakeService struct {
	mu           sync.Mutex
	stale        map[string]bool
	refreshFails bool
	refreshCalls int
	deletes      []string
	created      []school.StudentInput
	comments     map[string]string
}

func (f *fakeService) expire(token string) {
	f.mu.Lock()
	f.stale[token] = true
	f.mu.Unlock()
}

func (f *fakeService) failRefresh() {
	f.mu.Lock()
	f.refreshFails = true
	f.mu.Unlock()
}

func (f *fakeService) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeService) createdStudents() []school.StudentInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]school.StudentInput(nil), f.created...)
}

func (f *fakeService) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeService) comment(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[path]
}

func (f *fakeService) handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Email string `json:"email"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			acct, ok := accounts[body.Email]
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":        "tok-" + acct.role,
				"refreshToken": "ref-" + acct.role,
				"user":         map[string]any{"id": acct.id, "email": body.Email, "firstName": acct.role, "lastName": "Staff", "role": acct.role},
			})
		})
		r.Post("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.refreshCalls++
			fails := f.refreshFails
			f.mu.Unlock()
			if fails {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"tokens":{"accessToken":"tok-fresh","refreshToken":"ref-fresh"}}`))
		})
		r.Group(func(r chi.Router) {
			r.Use(f.requireToken)
			r.Get("/students", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"items":[{"id":5,"firstName":"Mia","lastName":"Souza","grade":"7"}],"total":1}`))
			})
			r.Post("/students", func(w http.ResponseWriter, r *http.Request) {
				var in school.StudentInput
				_ = json.NewDecoder(r.Body).Decode(&in)
				f.mu.Lock()
				f.created = append(f.created, in)
				f.mu.Unlock()
				_ = json.NewEncoder(w).Encode(map[string]any{"id": 6, "firstName": in.FirstName, "lastName": in.LastName, "grade": in.Grade})
			})
			r.Get("/students/{id}", func(w http.ResponseWriter, r *http.Request) {
				switch chi.URLParam(r, "id") {
				case "5":
					_, _ = w.Write([]byte(`{"id":5,"firstName":"Mia","lastName":"Souza","grade":"7"}`))
				case "403":
					w.WriteHeader(http.StatusForbidden)
				default:
					w.WriteHeader(http.StatusNotFound)
					_, _ = w.Write([]byte(`{"message":"student not found"}`))
				}
			})
			r.Get("/students/{id}/interventions", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[]`))
			})
			r.Put("/interventions/{id}/comments/{commentID}", func(w http.ResponseWriter, r *http.Request) {
				var in school.CommentInput
				_ = json.NewDecoder(r.Body).Decode(&in)
				f.mu.Lock()
				f.comments[r.URL.Path] = in.Body
				f.mu.Unlock()
				_ = json.NewEncoder(w).Encode(map[string]any{"id": chi.URLParam(r, "commentID"), "body": in.Body})
			})
			r.Delete("/students/{id}", f.recordDelete)
			r.Delete("/users/{id}", f.recordDelete)
		})
	})
	return r
}

func (f *fakeService) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		stale := f.stale[token]
		f.mu.Unlock()
		if token == "" || stale {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeService) recordDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.deletes = append(f.deletes, r.URL.Path)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type fixture struct {
	service  *fakeService
	router   http.Handler
	clients  *shared.ClientManager
	sessions *auth.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &fakeService{stale: map[string]bool{}, comments: map[string]string{}}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sessions := auth.NewManager(auth.ManagerConfig{
		NewClient: func() *remote.Client { return remote.New(srv.URL + "/api") },
		StorageFor: func(clientID string) auth.Storage {
			return auth.NewRedisStorage(redisClient, "client:"+clientID, time.Hour)
		},
	})
	g := guard.New(permission.NewEvaluator(nil), nil)
	templates, err := view.NewEngine(g)
	require.NoError(t, err)
	h := school.NewHandler(nil, templates, shared.NewCSRFManager("csrfsecret"), g, shared.NewIdempotencyStore(redisClient, time.Hour))

	r := chi.NewRouter()
	h.MountRoutes(r)
	return &fixture{service: svc, router: r, clients: shared.NewClientManager(redisClient, "test_client", "cookiesecret", time.Hour, false), sessions: sessions}
}

// signIn returns a client whose session is logged in as email; an empty
// email leaves it anonymous.
func (f *fixture) signIn(t *testing.T, email string) (*shared.Client, *auth.ClientSession) {
	t.Helper()
	ctx := context.Background()
	c, err := f.clients.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	cs := f.sessions.Acquire(ctx, c.ID)
	if email != "" {
		_, err := cs.Session.Login(ctx, auth.Credentials{Email: email, Password: "pw"})
		require.NoError(t, err)
	}
	return c, cs
}

func (f *fixture) do(c *shared.Client, cs *auth.ClientSession, req *http.Request) *httptest.ResponseRecorder {
	ctx := shared.ContextWithClient(req.Context(), c)
	ctx = auth.ContextWithClientSession(ctx, cs)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestListStudentsForViewerHidesWrites(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Mia Souza")
	assert.NotContains(t, body, `href="/students/new"`)
	assert.NotContains(t, body, "/students/edit?id=5")
}

func TestListStudentsForStaffShowsWrites(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/students/new"`)
	assert.Contains(t, rec.Body.String(), "/students/edit?id=5")
}

func TestAnonymousIsSentToLogin(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students?q=mi", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next="+url.QueryEscape("/students?q=mi"), rec.Header().Get("Location"))
}

func TestRouteDeniedRendersForbidden(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")

	for _, path := range []string{"/users", "/audit", "/students/new", "/users/1"} {
		rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Access denied", path)
	}
}

func TestEntityGateBlocksMutation(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, postForm("/students/5/delete", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.service.deleted())
}

func TestAdminDeletesStudent(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "admin@school.test")

	rec := f.do(c, cs, postForm("/students/5/delete", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/students", rec.Header().Get("Location"))
	assert.Equal(t, []string{"/api/students/5"}, f.service.deleted())
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Student deleted", flash.Message)
}

func TestCreateStudent(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, postForm("/students/new", url.Values{
		"firstName": {"Leo"}, "lastName": {"Alves"}, "grade": {"5"}, "dateOfBirth": {"2014-03-02"},
	}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/students/6", rec.Header().Get("Location"))
	created := f.service.createdStudents()
	require.Len(t, created, 1)
	assert.Equal(t, "Leo", created[0].FirstName)
}

func TestCreateStudentSubmittedTwice(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students/new", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	m := regexp.MustCompile(`name="submission_id" value="([^"]+)"`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)

	form := url.Values{"firstName": {"Leo"}, "lastName": {"Alves"}, "grade": {"5"}, "submission_id": {m[1]}}
	rec = f.do(c, cs, postForm("/students/new", form))
	assert.Equal(t, "/students/6", rec.Header().Get("Location"))
	_ = c.PopFlash()

	rec = f.do(c, cs, postForm("/students/new", form))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/students", rec.Header().Get("Location"))
	assert.Len(t, f.service.createdStudents(), 1)
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "This form was already submitted.", flash.Message)
}

func TestCreateStudentValidation(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, postForm("/students/new", url.Values{"firstName": {"Leo"}, "dateOfBirth": {"02/03/2014"}}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "This field is required")
	assert.Contains(t, rec.Body.String(), "Use the format YYYY-MM-DD")
	assert.Empty(t, f.service.createdStudents())
}

func TestEditWithoutIDIsBadRequest(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students/edit", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthorizedRefreshesAndRetries(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")
	f.service.expire("tok-Viewer")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mia Souza")
	assert.Equal(t, 1, f.service.refreshes())
	assert.Equal(t, "tok-fresh", cs.Session.AccessToken())
	assert.Equal(t, "tok-fresh", cs.API.Bearer())
}

func TestFailedRefreshEndsSession(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")
	f.service.expire("tok-Viewer")
	f.service.failRefresh()

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next="+url.QueryEscape("/students"), rec.Header().Get("Location"))
	assert.False(t, cs.Session.IsAuthenticated())
	assert.Equal(t, auth.SessionExpired, cs.Session.Err())
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, auth.SessionExpired, flash.Message)
}

func TestStudentNotFound(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students/77", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not exist")
}

func TestServiceForbiddenRendersForbidden(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")

	rec := f.do(c, cs, httptest.NewRequest(http.MethodGet, "/students/403", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")
}

func TestCannotDeleteOwnAccount(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "admin@school.test")

	rec := f.do(c, cs, postForm("/users/1/delete", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/users/1", rec.Header().Get("Location"))
	assert.Empty(t, f.service.deleted())
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "You cannot delete your own account", flash.Message)

	rec = f.do(c, cs, postForm("/users/2/delete", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []string{"/api/users/2"}, f.service.deleted())
}

func TestEditComment(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "viewer@school.test")

	rec := f.do(c, cs, postForm("/interventions/4/comments/11/edit", url.Values{"body": {"Parents informed"}}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/interventions/4", rec.Header().Get("Location"))
	assert.Equal(t, "Parents informed", f.service.comment("/api/interventions/4/comments/11"))
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Comment updated", flash.Message)
}

func TestEditCommentRequiresBody(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "user@school.test")

	rec := f.do(c, cs, postForm("/interventions/4/comments/11/edit", url.Values{"body": {" "}}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, f.service.comment("/api/interventions/4/comments/11"))
	flash := c.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Comment: This field is required", flash.Message)
}

func TestEditCommentAnonymousIsSentToLogin(t *testing.T) {
	f := newFixture(t)
	c, cs := f.signIn(t, "")

	rec := f.do(c, cs, postForm("/interventions/4/comments/11/edit", url.Values{"body": {"x"}}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Empty(t, f.service.comment("/api/interventions/4/comments/11"))
}
