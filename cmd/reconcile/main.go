// Command reconcile runs a single reconciliation pass and prints the report
// as JSON. With -fix, missing tickets for completed orders are issued.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/reconciliation"
	recondb "ms-marketplace/internal/reconciliation/db"
	ticketdb "ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/template"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	fix := flag.Bool("fix", false, "issue missing tickets")
	eventIDs := flag.String("events", "", "comma-separated event ids (default: all)")
	flag.Parse()

	log := logger.NewLogger()
	ctx := context.Background()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	recorder := audit.NewRecorder(bunDB, log)
	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, qr.NewQRGenerator(cfg.Tickets.QRSecret),
		template.NewTicketPDFGenerator(cfg.Tickets.PDFFontPath), recorder, kafka.NopPublisher{},
		cfg.Kafka.Topics.TicketsVoided, log, cfg.Tickets.CodeByteSize)
	svc := reconciliation.NewReconciliationService(&recondb.DB{Bun: bunDB}, ticketService, recorder, log, cfg.Reconciliation.Concurrency)

	opts := reconciliation.Options{AutoFix: *fix}
	if *eventIDs != "" {
		opts.EventIDs = strings.Split(*eventIDs, ",")
	}
	report, err := svc.Run(ctx, opts)
	if err != nil {
		log.Fatal("RECONCILE", err.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if len(report.Mismatches) > 0 && !*fix {
		os.Exit(1)
	}
}
