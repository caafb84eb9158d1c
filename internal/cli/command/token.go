package command

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/auth"
)

// TokenCommand returns the token subcommand group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Document access tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "Sign an access token with the server's token secret",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "secret",
						Usage:   "Token secret (auth.token_secret of the server)",
						EnvVars: []string{"DOCSYNC_TOKEN_SECRET"},
					},
					&cli.StringFlag{
						Name:     "subject",
						Usage:    "Who the token is for",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Document glob the token may open (repeatable, default all)",
					},
					&cli.BoolFlag{
						Name:  "write",
						Usage: "Allow editing",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Lifetime, 0 for no expiry",
						Value: 24 * time.Hour,
					},
				},
				Action: issueToken,
			},
		},
	}
}

// AdminCommand returns the admin subcommand group.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Admin key helpers",
		Subcommands: []*cli.Command{
			{
				Name:      "hash-key",
				Usage:     "Hash an admin key for auth.admin_key_hashes",
				ArgsUsage: "[KEY]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "generate",
						Usage: "Generate a random key and print it with its hash",
					},
				},
				Action: hashAdminKey,
			},
		},
	}
}

func issueToken(c *cli.Context) error {
	secret := c.String("secret")
	if secret == "" {
		secret = Settings(c).TokenSecret
	}
	if secret == "" {
		return errors.New("a token secret is required (--secret, DOCSYNC_TOKEN_SECRET or token_secret in the CLI config)")
	}
	a, err := auth.NewTokenAuthorizer([]byte(secret))
	if err != nil {
		return err
	}

	claims := auth.Claims{
		Subject:   c.String("subject"),
		Documents: c.StringSlice("doc"),
		Write:     c.Bool("write"),
	}
	if ttl := c.Duration("ttl"); ttl > 0 {
		claims.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	token, err := a.Issue(claims)
	if err != nil {
		return err
	}
	fmt.Fprintln(writer(c), token)
	return nil
}

func hashAdminKey(c *cli.Context) error {
	key := c.Args().First()
	switch {
	case c.Bool("generate") && key != "":
		return errors.New("pass either KEY or --generate")
	case c.Bool("generate"):
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		key = "dsk_" + base64.RawURLEncoding.EncodeToString(buf)
	case key == "":
		return errors.New("expected a KEY argument or --generate")
	}

	hash, err := auth.HashAdminKey(key)
	if err != nil {
		return err
	}
	out := writer(c)
	if c.Bool("generate") {
		fmt.Fprintf(out, "key:  %s\nhash: %s\n", key, hash)
		return nil
	}
	fmt.Fprintln(out, hash)
	return nil
}
