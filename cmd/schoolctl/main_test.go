package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schoolhub/schoolhub/cmd/schoolctl/cli"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	assert.Equal(t, cli.ExitError, code)
	assert.Contains(t, stderr, "usage: schoolctl")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "", "--state-dir", t.TempDir(), "enrol")
	assert.Equal(t, cli.ExitError, code)
	assert.Contains(t, stderr, `unknown command "enrol"`)
}

func TestRunArgumentChecks(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCLI(t, "", "--state-dir", dir, "can", "STUDENT")
	assert.Equal(t, cli.ExitError, code)
	assert.Contains(t, stderr, "expected ENTITY OPERATION")

	code, _, stderr = runCLI(t, "", "--state-dir", dir, "login")
	assert.Equal(t, cli.ExitError, code)
	assert.Contains(t, stderr, "--email is required")
}

func TestRunLoginReadsPasswordFromStdin(t *testing.T) {
	var gotPassword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		if strings.Contains(buf.String(), `"password":"secret"`) {
			gotPassword = "secret"
		}
		_, _ = w.Write([]byte(`{"token":"tok-1","user":{"id":"1","email":"ana@school.test","firstName":"Ana","lastName":"Lima","role":"admin"}}`))
	}))
	defer srv.Close()
	dir := t.TempDir()

	code, stdout, stderr := runCLI(t, "secret\n", "--api", srv.URL+"/api", "--state-dir", dir, "login", "--email", "ana@school.test")
	assert.Equal(t, cli.ExitOK, code, stderr)
	assert.Equal(t, "secret", gotPassword)
	assert.Contains(t, stdout, "Signed in as Ana Lima (Admin)")

	code, stdout, _ = runCLI(t, "", "--api", srv.URL+"/api", "--state-dir", dir, "can", "audit", "read")
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "Admin READ AUDIT: allowed")
}

func TestRunAnonymousRouteIsDenied(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "--state-dir", t.TempDir(), "route", "/dashboard")
	assert.Equal(t, cli.ExitDenied, code)
	assert.Contains(t, stdout, "anonymous /dashboard: denied")
}
