// Package config loads process configuration for the coordinator and the durable store.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/and161185/skin-sync/internal/coordinator"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/skinstore"
	"github.com/and161185/skin-sync/internal/transfer"
)

// StoreClient configures the coordinator's connection to the durable store.
type StoreClient struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Workers int    `yaml:"workers"`
}

// Server is the coordinator process configuration.
type Server struct {
	Addr      string `yaml:"addr"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	Plaintext bool   `yaml:"plaintext"`
	JWTKey    string `yaml:"jwt_key"`
	Debug     bool   `yaml:"debug"`
	Dev       bool   `yaml:"dev"` // enables server reflection

	MaxResolution      int           `yaml:"max_resolution"`
	MaxChunkSize       int           `yaml:"max_chunk_size"`
	MaxRecvMsgSize     int           `yaml:"max_recv_msg_size"`
	JoinSyncDelayTicks int           `yaml:"join_sync_delay_ticks"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	OutboxSize         int           `yaml:"outbox_size"`
	PendingTTL         time.Duration `yaml:"pending_ttl"`

	Store StoreClient `yaml:"store"`
}

// DefaultServer returns the configuration used when no file is given.
func DefaultServer() Server {
	return Server{
		Addr:               ":8443",
		TLSCert:            "cert.pem",
		TLSKey:             "key.pem",
		MaxResolution:      model.DefaultMaxResolution,
		MaxChunkSize:       transfer.DefaultMaxChunkSize,
		MaxRecvMsgSize:     64 << 10,
		JoinSyncDelayTicks: coordinator.DefaultJoinSyncDelayTicks,
		TickInterval:       coordinator.DefaultTickInterval,
		OutboxSize:         256,
		PendingTTL:         2 * time.Minute,
		Store: StoreClient{
			Enabled: true,
			URL:     skinstore.DefaultURL,
			Workers: skinstore.DefaultWorkers,
		},
	}
}

// LoadServer reads path over the defaults. A missing file yields the defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ParseServer parses args: -config names the YAML file, every other flag
// overrides the value read from it when given explicitly.
func ParseServer(name string, args []string) (Server, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")

	var over Server
	fs.StringVar(&over.Addr, "addr", "", "listen address")
	fs.StringVar(&over.JWTKey, "jwt-key", "", "HS256 signing key")
	fs.StringVar(&over.TLSCert, "tls-cert", "", "TLS certificate (PEM)")
	fs.StringVar(&over.TLSKey, "tls-key", "", "TLS private key (PEM)")
	fs.BoolVar(&over.Plaintext, "plaintext", false, "serve without TLS (dev only)")
	fs.BoolVar(&over.Debug, "debug", false, "development logging")
	fs.BoolVar(&over.Dev, "dev", false, "enable server reflection")
	fs.IntVar(&over.MaxResolution, "max-resolution", 0, "largest accepted square skin side")
	fs.BoolVar(&over.Store.Enabled, "store", false, "enable the durable store")
	fs.StringVar(&over.Store.URL, "store-url", "", "durable store base URL")
	fs.StringVar(&over.Store.APIKey, "store-api-key", "", "durable store API key")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}

	cfg, err := LoadServer(*path)
	if err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = over.Addr
		case "jwt-key":
			cfg.JWTKey = over.JWTKey
		case "tls-cert":
			cfg.TLSCert = over.TLSCert
		case "tls-key":
			cfg.TLSKey = over.TLSKey
		case "plaintext":
			cfg.Plaintext = over.Plaintext
		case "debug":
			cfg.Debug = over.Debug
		case "dev":
			cfg.Dev = over.Dev
		case "max-resolution":
			cfg.MaxResolution = over.MaxResolution
		case "store":
			cfg.Store.Enabled = over.Store.Enabled
		case "store-url":
			cfg.Store.URL = over.Store.URL
		case "store-api-key":
			cfg.Store.APIKey = over.Store.APIKey
		}
	})
	return cfg, cfg.Validate()
}

// envelopeOverhead is the room a chunk message needs beside its data.
const envelopeOverhead = 4096

// Validate reports configuration the coordinator cannot start with.
func (c Server) Validate() error {
	switch {
	case c.JWTKey == "":
		return errors.New("missing jwt signing key (jwt_key / -jwt-key)")
	case c.Addr == "":
		return errors.New("missing listen address")
	case c.MaxResolution < 64:
		return fmt.Errorf("max_resolution %d below 64", c.MaxResolution)
	case c.Store.Enabled && c.Store.APIKey == "":
		return errors.New("store enabled without api_key")
	case c.MaxChunkSize < 1:
		return fmt.Errorf("max_chunk_size %d must be positive", c.MaxChunkSize)
	case c.MaxChunkSize >= c.MaxRecvMsgSize-envelopeOverhead:
		return fmt.Errorf("max_chunk_size %d leaves no room under max_recv_msg_size %d", c.MaxChunkSize, c.MaxRecvMsgSize)
	case (model.MaxAssetSize+c.MaxChunkSize-1)/c.MaxChunkSize > transfer.MaxChunks:
		return fmt.Errorf("max_chunk_size %d splits the largest asset into more than %d chunks", c.MaxChunkSize, transfer.MaxChunks)
	}
	return nil
}
