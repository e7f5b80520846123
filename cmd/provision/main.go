// provision creates chat users directly in the SQLite store and prints
// a signed token for each, for local development and load testing.
//
// Usage:
//
//	provision -db notebud.db -secret $JWT_SECRET -ttl 24h alice bob carol
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ktauchathuranga/notebud-sub000/internal/auth"
	"github.com/ktauchathuranga/notebud-sub000/internal/store"
)

func main() {
	dbPath := flag.String("db", "notebud.db", "path to the SQLite database")
	secret := flag.String("secret", "", "JWT signing secret (must match the server)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: provision -db PATH -secret SECRET [-ttl DUR] USERNAME...")
		os.Exit(2)
	}

	st, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	verifier := auth.NewJWTVerifier(*secret)
	ctx := context.Background()

	for _, username := range flag.Args() {
		id := uuid.NewString()
		if existing, err := st.FindUserByName(ctx, username); err == nil {
			id = existing.ID
		} else if err := st.CreateUser(ctx, id, username); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", username, err)
			os.Exit(1)
		}

		token, err := verifier.Generate(id, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token for %s: %v\n", username, err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\t%s\n", username, id, token)
	}
}
