package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/casefiles/casefiles/internal/session"
)

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()

	if e.model.Mode() == session.Member {
		fmt.Printf("Already signed in as %s.\n", e.model.State().Enterprise.Email)
		return
	}

	dl, err := e.ent.StartLogin(ctx)
	if err != nil {
		e.fail(err)
	}
	uri := dl.VerificationURIComplete
	if uri == "" {
		uri = dl.VerificationURI
	}
	fmt.Printf("Open %s and enter the code: ", uri)
	okColor.Println(dl.UserCode)
	dimColor.Printf("Waiting for approval (expires %s)...\n", dl.ExpiresAt.Local().Format("15:04:05"))

	acct, err := e.ent.CompleteLogin(ctx)
	if err != nil {
		e.fail(err)
	}
	okColor.Printf("Login successful! Signed in as %s.\n", acct.Username)
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()

	redirect, err := e.model.Logout(ctx)
	if err != nil {
		e.fail(err)
	}
	if redirect != "" {
		fmt.Printf("To end the browser session too, open:\n  %s\n", redirect)
	}
	fmt.Println("Logged out successfully.")
}

func cmdWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()

	st := e.model.State()
	fmt.Printf("Mode:       %s\n", st.Mode)
	if st.Enterprise != nil {
		fmt.Printf("Enterprise: %s <%s>\n", st.Enterprise.Name, st.Enterprise.Email)
	} else {
		dimColor.Println("Enterprise: (none)")
	}
	if st.Direct != nil {
		fmt.Printf("Guest:      %s\n", st.Direct.Email)
	} else {
		dimColor.Println("Guest:      (none)")
	}
}

func cmdGuest(args []string) {
	if len(args) < 1 || (args[0] != "sign-in" && args[0] != "sign-up") {
		fmt.Fprintf(os.Stderr, "Usage: casectl guest sign-in|sign-up [-email e]\n")
		os.Exit(2)
	}
	action := args[0]
	fs := flag.NewFlagSet("guest "+action, flag.ExitOnError)
	email := fs.String("email", "", "Email address (prompted when empty)")
	fs.Parse(args[1:])

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireGuest()

	if *email == "" {
		*email = prompt("Email: ")
	}
	password := readPassword("Password: ")

	if action == "sign-in" {
		sess, err := e.direct.SignIn(ctx, *email, password)
		if err != nil {
			e.fail(err)
		}
		okColor.Printf("Signed in as %s.\n", sess.User.Email)
		return
	}

	res, err := e.direct.SignUp(ctx, *email, password)
	if err != nil {
		e.fail(err)
	}
	if res.ConfirmationRequired {
		warnColor.Printf("Check %s for a confirmation link, then run: casectl guest sign-in\n", res.User.Email)
		return
	}
	okColor.Printf("Account created. Signed in as %s.\n", res.User.Email)
}

func cmdReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: casectl reset <email>\n")
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireGuest()

	if err := e.direct.ResetPassword(ctx, fs.Arg(0)); err != nil {
		e.fail(err)
	}
	fmt.Printf("If %s has an account, a reset link is on its way.\n", fs.Arg(0))
}

func cmdProfile(args []string) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	email := fs.String("email", "", "New email address")
	changePassword := fs.Bool("password", false, "Prompt for a new password")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireGuest()

	if *email == "" && !*changePassword {
		user, err := e.direct.GetUser(ctx)
		if err != nil {
			e.fail(err)
		}
		fmt.Printf("ID:      %s\n", user.ID)
		fmt.Printf("Email:   %s\n", user.Email)
		fmt.Printf("Created: %s\n", user.CreatedAt.Local().Format("2006-01-02 15:04"))
		return
	}

	var password string
	if *changePassword {
		password = readPassword("New password: ")
		if confirm := readPassword("Confirm password: "); confirm != password {
			e.close()
			fatalf("passwords do not match")
		}
	}
	user, err := e.direct.UpdateUser(ctx, *email, password)
	if err != nil {
		e.fail(err)
	}
	okColor.Printf("Profile updated for %s.\n", user.Email)
}

func prompt(label string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func readPassword(label string) string {
	fmt.Print(label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fatalf("reading password: %v", err)
	}
	return string(b)
}
