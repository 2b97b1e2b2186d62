// casectl - command-line front end for case files
//
// Sub-commands (a leading -v logs debug output to stderr):
//
//	casectl login                          Enterprise sign-in (device code)
//	casectl logout                         Sign out the active account
//	casectl whoami                         Show the session state
//	casectl guest sign-in|sign-up          Guest sign-in with email and password
//	casectl reset <email>                  Send a password reset email
//	casectl profile [-email e] [-password] Show or update the guest profile
//	casectl cases [-create name]           List or create cases
//	casectl ls <drive> [item]              List a folder with breadcrumbs
//	casectl mkdir <drive> <parent> <name>  Create a folder
//	casectl upload <drive> <folder> files  Upload files into a folder
//	casectl open <drive> <item>            Resolve how an item opens
//	casectl perms <drive> <item>           List user permissions
//	casectl share <drive> <item> <email>   Grant access
//	casectl unshare <drive> <item> <perm>  Revoke access
//
// The daemon and casectl share one state file; stop the daemon first or
// point STATE_PATH elsewhere.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/casefiles/casefiles/internal/config"
	"github.com/casefiles/casefiles/internal/directauth"
	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/session"
	"github.com/casefiles/casefiles/internal/store"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgHiRed)
	dimColor  = color.New(color.Faint)
)

// verbose is set by a leading -v and turns on debug logging.
var verbose bool

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-v" {
		verbose = true
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "whoami":
		cmdWhoami(args)
	case "guest":
		cmdGuest(args)
	case "reset":
		cmdReset(args)
	case "profile":
		cmdProfile(args)
	case "cases":
		cmdCases(args)
	case "ls":
		cmdList(args)
	case "mkdir":
		cmdMkdir(args)
	case "upload":
		cmdUpload(args)
	case "open":
		cmdOpen(args)
	case "perms":
		cmdPerms(args)
	case "share":
		cmdShare(args)
	case "unshare":
		cmdUnshare(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: casectl [-v] <command> [flags] [args]

Session:
  login                          Enterprise sign-in (device code)
  logout                         Sign out the active account
  whoami                         Show the session state
  guest sign-in|sign-up          Guest sign-in with email and password
  reset <email>                  Send a password reset email
  profile [-email e] [-password] Show or update the guest profile

Documents (enterprise accounts only):
  cases [-create name]           List or create cases
  ls <drive> [item]              List a folder with breadcrumbs
  mkdir <drive> <parent> <name>  Create a folder
  upload <drive> <folder> files  Upload files into a folder
  open <drive> <item>            Resolve how an item opens
  perms <drive> <item>           List user permissions
  share <drive> <item> <email>   Grant access
  unshare <drive> <item> <perm>  Revoke access`)
}

// env is everything a command may need, opened once per invocation.
type env struct {
	cfg    *config.Config
	store  *store.Store
	ent    *enterprise.Provider
	direct *directauth.Client
	model  *session.Model
	graph  *graph.Client
}

func openEnv(ctx context.Context) *env {
	cfg, err := config.Load()
	if err != nil {
		fatalf("configuration error: %v", err)
	}
	// The CLI prints its own output; only problems go to the log.
	if err := logging.Init(logging.Config{
		Level:      "warn",
		Format:     "console",
		OutputPath: "stderr",
	}); err != nil {
		fatalf("logging init error: %v", err)
	}
	if verbose {
		logging.SetLevel("debug")
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		fatalf("open state %s: %v (is the daemon running?)", cfg.StatePath, err)
	}

	ent, err := enterprise.New(ctx, enterprise.Config{
		Authority: cfg.Authority,
		ClientID:  cfg.ClientID,
		Scopes:    cfg.ScopeList(),
	}, st)
	if err != nil {
		st.Close()
		fatalf("%v", err)
	}

	e := &env{cfg: cfg, store: st, ent: ent}
	var directProvider session.DirectProvider
	if cfg.GuestEnabled() {
		e.direct, err = directauth.New(directauth.Config{
			URL:     cfg.IdentityURL,
			AnonKey: cfg.IdentityAnonKey,
		}, st)
		if err != nil {
			e.close()
			fatalf("%v", err)
		}
		directProvider = e.direct
	}

	e.model = session.New(ent, directProvider, st)
	e.model.Start(ctx)
	e.graph = graph.New(graph.Config{
		BaseURL: cfg.GraphBaseURL,
		Timeout: cfg.GraphTimeout,
		Tokens:  ent,
	})
	return e
}

func (e *env) close() {
	if e.model != nil {
		e.model.Close()
	}
	if e.direct != nil {
		e.direct.Close()
	}
	e.ent.Close()
	e.store.Close()
	logging.Sync()
}

// requireMember mirrors the daemon's gate: document commands need an
// enterprise account.
func (e *env) requireMember() {
	if e.model.Mode() != session.Member {
		e.close()
		fatalf("document commands need an enterprise account; run: casectl login")
	}
}

func (e *env) requireGuest() {
	if e.direct == nil {
		e.close()
		fatalf("guest sign-in is disabled (IDENTITY_URL is not set)")
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func fatalf(format string, args ...any) {
	errColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// describe renders remote failures the way a user needs to read them.
func describe(err error) string {
	if ae, ok := graph.AsAuth(err); ok {
		return fmt.Sprintf("not authorized (%v); run: casectl login", ae.Err)
	}
	if re, ok := graph.AsRemote(err); ok {
		return fmt.Sprintf("document service returned %d: %s", re.Status, re.Message)
	}
	if de, ok := directauth.AsError(err); ok {
		return de.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}

func (e *env) fail(err error) {
	e.close()
	fatalf("%s", describe(err))
}
