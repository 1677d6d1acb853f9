// Command ks_postgres is the Postgres-dialect worker helper the Launcher
// forks as either the From or To side of a pair.
package main

import (
	"context"
	"os"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/dbadapter/pgadapter"
	"kitchensync/internal/workermain"
)

func main() {
	os.Exit(workermain.Main(os.Args[1:], os.Stdin, os.Stdout,
		func(ctx context.Context, host string, port int, user, password, database string) (dbadapter.Adapter, error) {
			return pgadapter.Open(ctx, host, port, user, password, database)
		}))
}
