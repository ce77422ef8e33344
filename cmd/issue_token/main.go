package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"

	"realtime-canvas/internal/auth"
	"realtime-canvas/internal/model"
)

const version = "0.1.0"

const usage = `Issue and inspect access tokens for local testing.

JWT_SECRET is read from the environment or .env.

Usage:
    issue_token issue --id=<id> [--name=<name>] [--photo=<url>] [--expiry=<duration>]
    issue_token inspect <token>
    issue_token -h | --help
    issue_token --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --id=<id>            User id, letters, digits, - and _ are safe.
    --name=<name>        Display name [default: ].
    --photo=<url>        Photo URL [default: ].
    --expiry=<duration>  Token lifetime [default: 24h].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		log.Fatal(err)
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	if issue, _ := opts.Bool("issue"); issue {
		issueToken(secret, opts)
	} else if inspect, _ := opts.Bool("inspect"); inspect {
		inspectToken(secret, opts)
	}
}

func issueToken(secret string, opts docopt.Opts) {
	id, _ := opts.String("--id")
	name, _ := opts.String("--name")
	photo, _ := opts.String("--photo")
	expiryStr, _ := opts.String("--expiry")

	if err := model.ValidateKey("id", id); err != nil {
		log.Fatal(err)
	}
	expiry, err := time.ParseDuration(expiryStr)
	if err != nil {
		log.Fatalf("--expiry: %v", err)
	}
	if name == "" {
		name = id
	}

	token, err := auth.NewJWTManager(secret, expiry).GenerateAccessToken(model.User{
		ID:       id,
		Name:     name,
		PhotoURL: photo,
	})
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}

func inspectToken(secret string, opts docopt.Opts) {
	token, _ := opts.String("<token>")
	claims, err := auth.NewJWTManager(secret, 0).ValidateAccessToken(token)
	if err != nil {
		log.Fatalf("inspect: %v", err)
	}
	fmt.Printf("user:    %s\nname:    %s\nexpires: %s\n",
		claims.UserID, claims.Name, claims.ExpiresAt.Time.Format(time.RFC3339))
}
