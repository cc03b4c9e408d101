// Package client is the participant side of a SkinSync session.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/skin-sync/internal/wire"
)

// Config describes how to reach the coordinator.
type Config struct {
	Addr      string
	CACert    string // PEM bundle; system roots when empty
	Insecure  bool   // TLS without certificate verification
	Plaintext bool   // no TLS at all, local development only
	Token     string
}

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Conn is a connection to the coordinator.
type Conn struct {
	cc  *grpc.ClientConn
	API *wire.Client
}

// Dial connects to cfg.Addr. extra options are appended after the defaults.
func Dial(cfg Config, extra ...grpc.DialOption) (*Conn, error) {
	var creds credentials.TransportCredentials
	if cfg.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(cfg.CACert, cfg.Insecure)
		if err != nil {
			return nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: cfg.Token, secure: !cfg.Plaintext}))
	}
	cc, err := grpc.NewClient(cfg.Addr, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &Conn{cc: cc, API: wire.NewClient(cc)}, nil
}

// Close releases the connection.
func (c *Conn) Close() error { return c.cc.Close() }
