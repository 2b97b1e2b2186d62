// mockgraph serves an in-memory document API for local development.
//
// Point the daemon at it with GRAPH_BASE_URL=http://127.0.0.1:7781. Any
// bearer token is accepted unless -token is set.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/graph/graphtest"
	"github.com/casefiles/casefiles/internal/logging"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:7781", "Listen address")
	token := flag.String("token", "", "Only accept this bearer token")
	seed := flag.Bool("seed", true, "Seed demo cases")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: "console"}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	fake := graphtest.New()
	fake.Token = *token
	if *seed {
		seedDemo(fake)
	}

	srv := &http.Server{
		Addr:    *listen,
		Handler: logging.Middleware(fake),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		srv.Close()
	}()

	logging.Info("mock document API listening",
		zap.String("addr", *listen),
		zap.String("site", fake.SiteID()),
		zap.Bool("seeded", *seed))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// seedDemo creates two cases with a small folder tree, one generic list
// that is not a case, and a few sharing entries.
func seedDemo(fake *graphtest.Server) {
	_, acme := fake.AddList("Acme v. Jones", "Breach of contract, filed 2024", "documentLibrary")
	pleadings := fake.AddFolder(acme, "", "Pleadings")
	evidence := fake.AddFolder(acme, "", "Evidence")
	photos := fake.AddFolder(acme, evidence, "Photos")
	fake.AddFile(acme, "", "Engagement letter.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("engagement"))
	complaint := fake.AddFile(acme, pleadings, "Complaint.pdf", "application/pdf", []byte("%PDF-1.7 complaint"))
	fake.AddFile(acme, pleadings, "Answer draft.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("answer"))
	fake.AddFile(acme, evidence, "Invoices.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", []byte("invoices"))
	fake.AddFile(acme, photos, "site-visit.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff})
	fake.AddUserPermission(acme, complaint, "Dana Whitfield", "dana@acme.example", "read")
	fake.AddAppPermission(acme, complaint, "Records Retention", "read")

	_, estate := fake.AddList("Estate of Morales", "Probate", "documentLibrary")
	fake.AddFolder(estate, "", "Will and codicils")
	fake.AddFile(estate, "", "Inventory.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", []byte("inventory"))

	fake.AddList("Firm calendar", "", "events")
}
