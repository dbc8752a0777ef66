// Command progressctl runs offline progress maintenance: schema migration,
// completion reconciliation (once or on a cron schedule) and progress
// inspection for a single learner.
package main

import (
	"os"

	"github.com/example/learning-platform/internal/platform/config"
)

func main() {
	config.LoadDotEnv()
	if err := newRootCmd(openPostgres).Execute(); err != nil {
		os.Exit(1)
	}
}
