// issue-ops-token prints a bearer token for the /internal/ops routes.
//
// Usage (from backend directory):
//   API_SECRET=... go run ./cmd/issue-ops-token -username alice
//
// TOKEN_HOUR_LIFESPAN controls expiry, as for any other token.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/drum_backend/middlewares"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/joho/godotenv"
)

func main() {
	username := flag.String("username", "", "Operator the token is issued to")
	role := flag.String("role", middlewares.RoleOps, "Role claim")
	flag.Parse()

	_ = godotenv.Load()
	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "-username is required")
		os.Exit(2)
	}
	if strings.TrimSpace(os.Getenv("API_SECRET")) == "" {
		fmt.Fprintln(os.Stderr, "API_SECRET is not set")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(strings.TrimSpace(*username), *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
