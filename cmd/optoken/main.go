// optoken issues a bearer token for the operator API
//
//	optoken --subject reporting --ttl 720h
//
// Secret key is taken from --secret-key or SECRET_KEY.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/pointledger/internal/service/operator"
)

func main() {
	if err := run(os.Stdout, os.Getenv, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while issuing token: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, getenv func(string) string, args []string) error {
	var (
		secretKey = getenv("SECRET_KEY")
		subject   string
		ttl       time.Duration
	)

	fs := pflag.NewFlagSet("optoken", pflag.ContinueOnError)
	fs.StringVarP(&secretKey, "secret-key", "s", secretKey, "Secret key the service signs operator tokens with")
	fs.StringVarP(&subject, "subject", "u", "", "Who the token is issued to")
	fs.DurationVarP(&ttl, "ttl", "t", 0, "Token lifetime (service default if not set)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if subject == "" {
		return errors.New("subject is required")
	}

	m, err := operator.NewTokenManager(operator.Config{SecretKey: secretKey, TTL: ttl})
	if err != nil {
		return err
	}

	token, err := m.Issue(subject)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n# subject=%s expires_at=%s\n", token.Value, token.Subject, token.ExpiresAt.Format(time.RFC3339))
	return err
}
