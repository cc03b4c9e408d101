package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Store is the durable store process configuration, read from the environment.
type Store struct {
	Addr       string // STORE_ADDR
	APIKeyHash string // STORE_API_KEY_HASH, argon2id encoded
	Backend    string // STORE_BACKEND: postgres or s3
	DSN        string // DATABASE_DSN
	Bucket     string // AWS_BUCKET
	Region     string // AWS_REGION
	Prefix     string // S3_PREFIX
	Debug      bool   // STORE_DEBUG
}

// LoadStore reads the store configuration. Values from files (".env" when
// none are named) fill in variables missing from the process environment.
// found reports whether any env file was read.
func LoadStore(files ...string) (cfg Store, found bool, err error) {
	fileEnv, ferr := godotenv.Read(files...)
	found = ferr == nil
	if ferr != nil && !errors.Is(ferr, os.ErrNotExist) {
		return Store{}, false, fmt.Errorf("read env file: %w", ferr)
	}
	get := func(k string) string {
		if v, ok := os.LookupEnv(k); ok {
			return v
		}
		return fileEnv[k]
	}
	cfg, err = StoreFromLookup(get)
	return cfg, found, err
}

// StoreFromLookup builds a Store from get and validates it.
func StoreFromLookup(get func(string) string) (Store, error) {
	cfg := Store{
		Addr:       get("STORE_ADDR"),
		APIKeyHash: get("STORE_API_KEY_HASH"),
		Backend:    get("STORE_BACKEND"),
		DSN:        get("DATABASE_DSN"),
		Bucket:     get("AWS_BUCKET"),
		Region:     get("AWS_REGION"),
		Prefix:     get("S3_PREFIX"),
	}
	if v := get("STORE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("STORE_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendPostgres
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "skins/"
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration the store cannot start with.
func (c Store) Validate() error {
	if c.APIKeyHash == "" {
		return errors.New("STORE_API_KEY_HASH required")
	}
	switch c.Backend {
	case BackendPostgres:
		if c.DSN == "" {
			return errors.New("DATABASE_DSN required for postgres backend")
		}
	case BackendS3:
		if c.Bucket == "" {
			return errors.New("AWS_BUCKET required for s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	return nil
}
