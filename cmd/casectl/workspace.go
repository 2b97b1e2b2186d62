package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/navigator"
	"github.com/casefiles/casefiles/internal/permissions"
	"github.com/casefiles/casefiles/internal/upload"
)

func needArgs(fs *flag.FlagSet, n int, usage string) {
	if fs.NArg() < n {
		fmt.Fprintf(os.Stderr, "Usage: casectl %s\n", usage)
		os.Exit(2)
	}
}

func cmdCases(args []string) {
	fs := flag.NewFlagSet("cases", flag.ExitOnError)
	create := fs.String("create", "", "Create a case with this name")
	desc := fs.String("desc", "", "Description for -create")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	if *create != "" {
		c, err := e.graph.CreateCase(ctx, *create, *desc)
		if err != nil {
			e.fail(err)
		}
		okColor.Printf("Created case %q (drive %s)\n", c.DisplayName, c.DriveID)
		return
	}

	cases, err := e.graph.ListCases(ctx)
	if err != nil {
		e.fail(err)
	}
	if len(cases) == 0 {
		dimColor.Println("No cases.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCREATED\tDRIVE\tDESCRIPTION")
	for _, c := range cases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c.DisplayName, c.CreatedDateTime.Local().Format("2006-01-02"), c.DriveID, c.Description)
	}
	tw.Flush()
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 1, "ls <drive> [item]")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	nav := navigator.New(e.graph, e.cfg.SortLocale)
	folder, err := nav.LoadFolder(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		e.fail(err)
	}

	names := make([]string, len(folder.Breadcrumbs))
	for i, c := range folder.Breadcrumbs {
		names[i] = c.Name
	}
	dimColor.Println(strings.Join(names, " / "))

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, it := range folder.Items {
		name, size := it.Name, fmt.Sprintf("%d", it.Size)
		if it.IsFolder {
			name += "/"
			size = fmt.Sprintf("%d items", it.ChildCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			name, size, it.LastModifiedDateTime.Local().Format("2006-01-02 15:04"), it.CreatedByDisplayName, it.ID)
	}
	tw.Flush()
}

func cmdMkdir(args []string) {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 3, "mkdir <drive> <parent> <name>")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	nav := navigator.New(e.graph, e.cfg.SortLocale)
	item, err := nav.CreateFolder(ctx, fs.Arg(0), fs.Arg(1), fs.Arg(2))
	if err != nil {
		e.fail(err)
	}
	okColor.Printf("Created folder %q (%s)\n", item.Name, item.ID)
}

func cmdUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 3, "upload <drive> <folder> <file>...")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	files := make([]upload.File, 0, fs.NArg()-2)
	for _, path := range fs.Args()[2:] {
		f, err := upload.OpenLocal(path)
		if err != nil {
			e.fail(err)
		}
		files = append(files, f)
	}

	nav := navigator.New(e.graph, e.cfg.SortLocale)
	var reloaded *navigator.Folder
	batch, err := upload.NewOrchestrator(e.graph).NewBatch(fs.Arg(0), fs.Arg(1),
		func(ctx context.Context, b *upload.Batch, _ upload.Summary) {
			folder, err := nav.LoadFolder(ctx, b.DriveID, b.FolderID)
			if err != nil {
				warnColor.Fprintf(os.Stderr, "Folder reload failed: %s\n", describe(err))
				return
			}
			reloaded = folder
		})
	if err != nil {
		e.fail(err)
	}
	if _, err := batch.Add(files...); err != nil {
		e.fail(err)
	}

	printed := make(map[int64]bool)
	report := func(tasks []upload.Task) {
		for _, t := range tasks {
			if !t.Status.Terminal() || printed[t.ID] {
				continue
			}
			printed[t.ID] = true
			if t.Status == upload.Success {
				okColor.Printf("  ✓ %s\n", t.Name)
			} else {
				errColor.Printf("  ✗ %s: %s\n", t.Name, t.Error)
			}
		}
	}

	ch := batch.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			report(ev.Tasks)
		}
	}()

	sum, err := batch.Upload(ctx)
	batch.Unsubscribe(ch)
	<-done
	if err != nil {
		e.fail(err)
	}
	// The stream drops events for slow readers; settle from the final snapshot.
	report(batch.Tasks())

	fmt.Printf("%d uploaded, %d failed\n", sum.Succeeded, sum.Failed)
	if reloaded != nil {
		dimColor.Printf("Folder now holds %d items.\n", len(reloaded.Items))
	}
	if sum.Failed > 0 {
		e.close()
		os.Exit(1)
	}
}

func cmdOpen(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 2, "open <drive> <item>")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	nav := navigator.New(e.graph, e.cfg.SortLocale)
	act, err := nav.ActivateID(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		e.fail(err)
	}
	switch act.Kind {
	case navigator.Navigate:
		fmt.Printf("Folder: casectl ls %s %s\n", fs.Arg(0), act.ItemID)
	case navigator.OpenExternal:
		fmt.Printf("Open in the office editor:\n  %s\n", act.URL)
	case navigator.Preview:
		fmt.Printf("Preview:\n  %s\n", act.URL)
	}
}

func printEntries(entries []permissions.Entry) {
	if len(entries) == 0 {
		dimColor.Println("No user permissions.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tEMAIL\tROLES\tID")
	for _, p := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.DisplayName, p.Email, strings.Join(p.Roles, ","), p.ID)
	}
	tw.Flush()
}

func cmdPerms(args []string) {
	fs := flag.NewFlagSet("perms", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 2, "perms <drive> <item>")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	entries, err := permissions.New(e.graph, fs.Arg(0), fs.Arg(1), e.cfg.InviteMessage).List(ctx)
	if err != nil {
		e.fail(err)
	}
	printEntries(entries)
}

func cmdShare(args []string) {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	role := fs.String("role", graph.RoleRead, "Role to grant (read or write)")
	fs.Parse(args)
	needArgs(fs, 3, "share [-role read|write] <drive> <item> <email>")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	entries, err := permissions.New(e.graph, fs.Arg(0), fs.Arg(1), e.cfg.InviteMessage).Grant(ctx, fs.Arg(2), *role)
	if err != nil {
		e.fail(err)
	}
	okColor.Printf("Granted %s to %s\n", *role, fs.Arg(2))
	printEntries(entries)
}

func cmdUnshare(args []string) {
	fs := flag.NewFlagSet("unshare", flag.ExitOnError)
	fs.Parse(args)
	needArgs(fs, 3, "unshare <drive> <item> <permission-id>")

	ctx, cancel := signalContext()
	defer cancel()
	e := openEnv(ctx)
	defer e.close()
	e.requireMember()

	entries, err := permissions.New(e.graph, fs.Arg(0), fs.Arg(1), e.cfg.InviteMessage).Revoke(ctx, fs.Arg(2))
	if err != nil {
		e.fail(err)
	}
	okColor.Println("Access revoked.")
	printEntries(entries)
}
