package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/schoolhub/schoolhub/cmd/schoolctl/cli"
)

const usage = `usage: schoolctl [flags] <command> [args]

commands:
  login  --email EMAIL [--password PASSWORD]
  logout
  whoami
  refresh
  can    ENTITY OPERATION
  route  PATH
  routes

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("schoolctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	apiURL := flags.String("api", envOr("SCHOOLHUB_API_URL", "http://localhost:5000/api"), "data service base URL")
	stateDir := flags.String("state-dir", defaultStateDir(), "directory holding the saved session")
	timeout := flags.Duration("timeout", 15*time.Second, "request timeout")
	jsonOutput := flags.Bool("json", false, "print JSON")
	verbose := flags.BoolP("verbose", "v", false, "log session events to stderr")
	email := flags.String("email", "", "login email")
	password := flags.String("password", "", "login password; read from stdin when empty")
	flags.SetInterspersed(true)

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return cli.ExitOK
		}
		return cli.ExitError
	}
	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return cli.ExitError
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	c, err := cli.NewSessionCLI(ctx, cli.Options{APIURL: *apiURL, StateDir: *stateDir, Timeout: *timeout, Logger: logger})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return cli.ExitError
	}
	out := cli.Output{JSONOutput: *jsonOutput, Stdout: stdout, Stderr: stderr}

	cmd, params := rest[0], rest[1:]
	switch cmd {
	case "login":
		if *email == "" {
			_, _ = fmt.Fprintln(stderr, "login: --email is required")
			return cli.ExitError
		}
		pw := *password
		if pw == "" {
			pw = readLine(stdin)
		}
		return c.LoginCommand(ctx, *email, pw, out)
	case "logout":
		return c.LogoutCommand(ctx, out)
	case "whoami":
		return c.WhoamiCommand(out)
	case "refresh":
		return c.RefreshCommand(ctx, out)
	case "can":
		if len(params) != 2 {
			_, _ = fmt.Fprintln(stderr, "can: expected ENTITY OPERATION")
			return cli.ExitError
		}
		return c.CanCommand(params[0], params[1], out)
	case "route":
		if len(params) != 1 {
			_, _ = fmt.Fprintln(stderr, "route: expected PATH")
			return cli.ExitError
		}
		return c.RouteCommand(params[0], out)
	case "routes":
		return c.RoutesCommand(out)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		flags.Usage()
		return cli.ExitError
	}
}

func readLine(r io.Reader) string {
	line, _ := bufio.NewReader(r).ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "schoolhub")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "schoolhub")
	}
	return ".schoolhub"
}
