// Command createadmin provisions an administrator account directly in the
// database. Registration over HTTP always creates regular users; this is
// the only way to mint the first admin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/mlenoir/authvault/internal/common"
	"github.com/mlenoir/authvault/internal/cryptox"
	"github.com/mlenoir/authvault/internal/dbx"
	"github.com/mlenoir/authvault/internal/server/auth"
	"github.com/mlenoir/authvault/internal/server/config"
	"github.com/mlenoir/authvault/internal/server/models"
	"github.com/mlenoir/authvault/internal/server/repositories/repomanager"
)

func main() {
	username := flag.String("u", "", "admin username")
	email := flag.String("e", "", "admin email")
	flag.Parse()

	if *username == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	password, err := readPassword()
	if err != nil {
		log.Fatalf("reading password: %v", err)
	}
	if password == "" {
		log.Fatal("password must not be empty")
	}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.DatabaseDSN = dsn
	}

	ctx := context.Background()
	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close()

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		log.Fatalf("db migration error: %v", err)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		log.Fatalf("hashing password: %v", err)
	}

	user := &models.User{
		Username:      *username,
		Email:         *email,
		PasswordHash:  hash,
		Role:          auth.RoleAdmin,
		EncryptionKey: cryptox.GenerateUserKey(),
	}

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := repos.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		user = created

		empty, err := cryptox.EncryptSensitive("", user.EncryptionKey)
		if err != nil {
			return err
		}
		return repos.SessionSecrets(tx).SaveBio(ctx, user.ID, empty)
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			log.Fatalf("user %q already exists", *username)
		}
		log.Fatalf("creating admin: %v", err)
	}

	fmt.Printf("admin %q created (id %s)\n", user.Username, user.ID)
}

// readPassword prompts without echo when stdin is a terminal, and falls
// back to a plain line read otherwise so the command stays scriptable.
func readPassword() (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
