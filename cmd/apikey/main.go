// Command apikey manages API keys for content backend users.
//
//	apikey create -user <id> -name <name>
//	apikey list   -user <id>
//	apikey revoke -user <id> -id <key id>
//
// The raw key is printed once by create; only its bcrypt hash is stored.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	mw "github.com/tommypj/ai-content-saas-backend/internal/api/middleware"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const keyRandomBytes = 24

var errUsage = errors.New("usage: apikey <create|list|revoke> [flags]")

// keyStore is the subset of store.Store this command needs.
type keyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return dispatch(ctx, store.NewPostgresStore(pool), args, out)
}

func dispatch(ctx context.Context, st keyStore, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create":
		return createKey(ctx, st, args[1:], out)
	case "list":
		return listKeys(ctx, st, args[1:], out)
	case "revoke":
		return revokeKey(ctx, st, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func createKey(ctx context.Context, st keyStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id the key authenticates as")
	name := fs.String("name", "default", "label for the key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("create: -user is required")
	}

	raw, err := generateKey()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	key := &models.APIKey{
		UserID:    *userID,
		Name:      *name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(out, "id:     %s\n", key.ID)
	fmt.Fprintf(out, "user:   %s\n", key.UserID)
	fmt.Fprintf(out, "key:    %s\n", raw)
	fmt.Fprintln(out, "Store the key now. It cannot be shown again.")
	return nil
}

func listKeys(ctx context.Context, st keyStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id whose keys to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("list: -user is required")
	}

	keys, err := st.ListAPIKeys(ctx, *userID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.KeyPrefix, k.CreatedAt.Format(time.RFC3339), lastUsed)
	}
	return tw.Flush()
}

func revokeKey(ctx context.Context, st keyStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id owning the key")
	rawID := fs.String("id", "", "key id to revoke")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *rawID == "" {
		return errors.New("revoke: -user and -id are required")
	}
	id, err := uuid.Parse(*rawID)
	if err != nil {
		return fmt.Errorf("revoke: invalid key id %q", *rawID)
	}

	if err := st.RevokeAPIKey(ctx, id, *userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("revoke: no active key %s for user %s", id, *userID)
		}
		return fmt.Errorf("revoke key: %w", err)
	}
	fmt.Fprintf(out, "revoked %s\n", id)
	return nil
}

// generateKey returns a new raw key: the API key prefix followed by hex-encoded random bytes.
func generateKey() (string, error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return mw.APIKeyPrefix + hex.EncodeToString(b), nil
}
