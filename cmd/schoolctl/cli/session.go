package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
)

// Exit codes shared by every command.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitDenied = 2
)

// SessionCLI drives one persisted session from the terminal.
type SessionCLI struct {
	api       *remote.Client
	session   *auth.Session
	evaluator *permission.Evaluator
}

// Options configures a SessionCLI.
type Options struct {
	APIURL   string
	StateDir string
	Timeout  time.Duration
	Logger   *slog.Logger
	// Storage overrides the state directory.
	Storage auth.Storage
}

// NewSessionCLI builds the helper and restores any saved session.
func NewSessionCLI(ctx context.Context, opts Options) (*SessionCLI, error) {
	if opts.APIURL == "" {
		return nil, errors.New("schoolctl: api url is required")
	}
	store := opts.Storage
	if store == nil {
		if opts.StateDir == "" {
			return nil, errors.New("schoolctl: state dir is required")
		}
		store = auth.NewFileStorage(opts.StateDir)
	}
	var remoteOpts []remote.Option
	if opts.Timeout > 0 {
		remoteOpts = append(remoteOpts, remote.WithTimeout(opts.Timeout))
	}
	api := remote.New(opts.APIURL, remoteOpts...)
	sessionOpts := []auth.Option{}
	if opts.Logger != nil {
		sessionOpts = append(sessionOpts, auth.WithLogger(opts.Logger))
	}
	session := auth.NewSession(api, api, store, sessionOpts...)
	session.InitializeAuth(ctx)
	return &SessionCLI{api: api, session: session, evaluator: permission.NewEvaluator(nil)}, nil
}

// Session exposes the underlying session.
func (c *SessionCLI) Session() *auth.Session { return c.session }

// Output carries the writers and format of one command.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o Output) fail(format string, args ...any) int {
	_, _ = fmt.Fprintf(o.Stderr, format+"\n", args...)
	return ExitError
}

func (o Output) json(v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail("encode output: %v", err)
	}
	return ExitOK
}

// WhoamiSummary describes the signed-in user.
type WhoamiSummary struct {
	Authenticated bool            `json:"authenticated"`
	ID            string          `json:"id,omitempty"`
	Email         string          `json:"email,omitempty"`
	Name          string          `json:"name,omitempty"`
	Role          permission.Role `json:"role,omitempty"`
	TokenExpires  *time.Time      `json:"tokenExpires,omitempty"`
}

func (c *SessionCLI) whoami() WhoamiSummary {
	st := c.session.State()
	if !st.IsAuthenticated() {
		return WhoamiSummary{}
	}
	out := WhoamiSummary{
		Authenticated: true,
		ID:            st.User.ID,
		Email:         st.User.Email,
		Name:          st.User.DisplayName(),
		Role:          st.User.Role,
	}
	if exp, ok := auth.TokenExpiry(st.AccessToken); ok {
		out.TokenExpires = &exp
	}
	return out
}

// LoginCommand signs in and persists the session.
func (c *SessionCLI) LoginCommand(ctx context.Context, email, password string, out Output) int {
	if _, err := c.session.Login(ctx, auth.Credentials{Email: email, Password: password}); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return out.fail("login failed: invalid email or password")
		}
		return out.fail("login failed: %v", err)
	}
	summary := c.whoami()
	if out.JSONOutput {
		return out.json(summary)
	}
	_, _ = fmt.Fprintf(out.Stdout, "Signed in as %s (%s)\n", summary.Name, summary.Role)
	return ExitOK
}

// LogoutCommand signs out. It succeeds when nobody is signed in.
func (c *SessionCLI) LogoutCommand(ctx context.Context, out Output) int {
	if !c.session.IsAuthenticated() {
		_, _ = fmt.Fprintln(out.Stdout, "Not signed in.")
		return ExitOK
	}
	c.session.Logout(ctx)
	_, _ = fmt.Fprintln(out.Stdout, "Signed out.")
	return ExitOK
}

// WhoamiCommand prints the saved identity.
func (c *SessionCLI) WhoamiCommand(out Output) int {
	summary := c.whoami()
	if out.JSONOutput {
		return out.json(summary)
	}
	if !summary.Authenticated {
		_, _ = fmt.Fprintln(out.Stdout, "Not signed in.")
		return ExitOK
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s <%s>\nrole: %s\n", summary.Name, summary.Email, summary.Role)
	if summary.TokenExpires != nil {
		_, _ = fmt.Fprintf(out.Stdout, "token expires: %s\n", summary.TokenExpires.Format(time.RFC3339))
	}
	return ExitOK
}

// RefreshCommand rotates the saved credential pair.
func (c *SessionCLI) RefreshCommand(ctx context.Context, out Output) int {
	if !c.session.IsAuthenticated() {
		return out.fail("not signed in")
	}
	if _, err := c.session.RefreshSession(ctx); err != nil {
		if auth.IsRefreshError(err) {
			return out.fail("%s, sign in again", auth.SessionExpired)
		}
		return out.fail("refresh failed: %v", err)
	}
	_, _ = fmt.Fprintln(out.Stdout, "Session refreshed.")
	return ExitOK
}

// Verdict is the answer to a can or route query.
type Verdict struct {
	Role      permission.Role `json:"role,omitempty"`
	Entity    string          `json:"entity,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Route     string          `json:"route,omitempty"`
	Allowed   bool            `json:"allowed"`
	// Legacy is the verdict of the role switch kept for older callers.
	Legacy *bool `json:"legacy,omitempty"`
}

func (v Verdict) code() int {
	if v.Allowed {
		return ExitOK
	}
	return ExitDenied
}

// CanCommand checks an entity operation for the saved user. Unknown names
// are an error rather than a denial.
func (c *SessionCLI) CanCommand(entity, operation string, out Output) int {
	allowed, err := c.evaluator.Decide(c.session, entity, operation)
	if err != nil {
		return out.fail("%v", err)
	}
	legacy := c.session.HasPermission(entity, operation)
	role, _ := c.session.SubjectRole()
	v := Verdict{Role: role, Entity: entity, Operation: operation, Allowed: allowed, Legacy: &legacy}
	if out.JSONOutput {
		if code := out.json(v); code != ExitOK {
			return code
		}
		return v.code()
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s %s %s: %s\n", displayRole(role), strings.ToUpper(operation), strings.ToUpper(entity), verdictWord(allowed))
	return v.code()
}

// RouteCommand checks whether the saved user may open route.
func (c *SessionCLI) RouteCommand(route string, out Output) int {
	allowed := c.evaluator.CheckRoute(c.session, route)
	role, _ := c.session.SubjectRole()
	v := Verdict{Role: role, Route: route, Allowed: allowed}
	if out.JSONOutput {
		if code := out.json(v); code != ExitOK {
			return code
		}
		return v.code()
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s %s: %s\n", displayRole(role), route, verdictWord(allowed))
	return v.code()
}

// RouteSummary lists one route rule.
type RouteSummary struct {
	Pattern string   `json:"pattern"`
	Roles   []string `json:"roles"`
	Allowed bool     `json:"allowed"`
}

// RoutesCommand prints the route table with the saved user's access.
func (c *SessionCLI) RoutesCommand(out Output) int {
	role, ok := c.session.SubjectRole()
	rules := c.evaluator.Table().Routes()
	summaries := make([]RouteSummary, 0, len(rules))
	for _, rule := range rules {
		names := make([]string, len(rule.Roles))
		for i, r := range rule.Roles {
			names[i] = string(r)
		}
		sort.Strings(names)
		summaries = append(summaries, RouteSummary{
			Pattern: rule.Pattern.String(),
			Roles:   names,
			Allowed: ok && rule.Roles.Contains(role),
		})
	}
	if out.JSONOutput {
		return out.json(summaries)
	}
	for _, s := range summaries {
		mark := " "
		if s.Allowed {
			mark = "*"
		}
		_, _ = fmt.Fprintf(out.Stdout, "%s %-28s %s\n", mark, s.Pattern, strings.Join(s.Roles, ", "))
	}
	return ExitOK
}

func displayRole(role permission.Role) string {
	if role == "" {
		return "anonymous"
	}
	return string(role)
}

func verdictWord(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
