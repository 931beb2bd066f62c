// ledger-check verifies invoice totals, payment sums and stock counters and
// exits non-zero when any discrepancy is found.
package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/sirupsen/logrus"
)

func main() {
	quiet := flag.Bool("quiet", false, "only print the summary line")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	problems, err := models.CheckLedger(db)
	if err != nil {
		config.LogError(logger, "ledger-check", "main", "CheckLedger", nil, err)
		fmt.Fprintf(os.Stderr, "ledger check failed: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		for _, p := range problems {
			fmt.Println(p.String())
		}
	}
	if len(problems) > 0 {
		logger.WithFields(logrus.Fields{"field": "ledger-check", "count": len(problems)}).Warn("ledger discrepancies found")
		fmt.Printf("%d discrepancies\n", len(problems))
		os.Exit(1)
	}
	fmt.Println("ledger OK")
}
