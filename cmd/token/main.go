// Command token mints an access token for local testing of the API and the
// live endpoint.  It signs with JWT_SECRET from the environment or .env.
//
//	go run ./cmd/token -sub alice -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/iliyamo/event-booking/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "subject id carried in the token")
	role := flag.String("role", utils.RoleCustomer, "CUSTOMER or ADMIN")
	ttl := flag.Int("ttl", 60, "lifetime in minutes")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("missing required env var: JWT_SECRET")
	}
	if *sub == "" {
		log.Fatal("-sub is required")
	}
	r := strings.ToUpper(*role)
	if r != utils.RoleCustomer && r != utils.RoleAdmin {
		log.Fatalf("unknown role %q", *role)
	}

	tok, err := utils.NewAccessToken(secret, *sub, r, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format("2006-01-02 15:04:05 MST"))
}
