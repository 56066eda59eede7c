// Command tokengen mints an access token for local testing.  Accounts live
// in the upstream identity service; this tool only signs claims with the
// shared secret.
//
//	tokengen -user 7 -role SCHOLAR
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/scholar-slot-booking/internal/config"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/utils"
)

func main() {
	userID := flag.Uint64("user", 0, "user id to put in the token")
	role := flag.String("role", model.RoleStudent, "SCHOLAR or STUDENT")
	ttl := flag.Duration("ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	if *userID == 0 {
		log.Fatal("-user is required")
	}
	r := strings.ToUpper(*role)
	if r != model.RoleScholar && r != model.RoleStudent {
		log.Fatalf("unknown role %q", *role)
	}

	jwtCfg := config.LoadJWTConfig()
	lifetime := jwtCfg.AccessTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	tok, err := utils.NewAccessToken(jwtCfg.Secret, *userID, r, lifetime)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
