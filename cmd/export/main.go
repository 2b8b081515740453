// Command export writes one month or a whole year of the ledger to
// stdout as CSV considering the configured timezone. Intended for
// backups and spreadsheet imports.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"commissioni/internal/cli"
	"commissioni/internal/core"
	"commissioni/internal/log"
	"commissioni/internal/report"
)

func main() {
	monthFlag := flag.String("month", "", "month to export as YYYY-MM (default: current month)")
	yearFlag := flag.Int("year", 0, "export a whole year instead of a month")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger("text")
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.OpenStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	engine := report.NewEngine(store, cfg.Location())

	if *yearFlag != 0 {
		if _, err := engine.ExportYear(context.Background(), os.Stdout, *yearFlag); err != nil {
			logger.Error("Export failed",
				log.FieldOperation, log.OpExport,
				log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	month := core.MonthOf(time.Now(), cfg.Location())
	if *monthFlag != "" {
		var err error
		if month, err = core.ParseMonthKey(*monthFlag); err != nil {
			logger.Error("Invalid month", log.FieldError, err)
			os.Exit(2)
		}
	}

	if _, err := engine.ExportMonth(context.Background(), os.Stdout, month); err != nil {
		logger.Error("Export failed",
			log.FieldOperation, log.OpExport,
			log.FieldMonth, string(month),
			log.FieldError, err)
		os.Exit(1)
	}
}
