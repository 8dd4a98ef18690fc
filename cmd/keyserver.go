package cmd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cdoc-project/cdoc/internal/keyserver"
)

var keyserverCmd = &cobra.Command{
	Use:   "keyserver",
	Short: "Run the reference CDoc2 key server (fetch_key over mutual TLS)",
}

var keyserverServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetch_key/put_key for CDoc2-Server recipients",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		loadDebugFlag()
		return nil
	},
	RunE: runKeyserverServe,
}

func init() {
	rootCmd.AddCommand(keyserverCmd)
	keyserverCmd.AddCommand(keyserverServeCmd)

	keyserverServeCmd.Flags().String("db-type", "sqlite", "database driver: sqlite or postgres")
	keyserverServeCmd.Flags().String("db-dsn", "keyserver.db", "database data source name")
	keyserverServeCmd.Flags().String("ip", "0.0.0.0", "HTTP listen address")
	keyserverServeCmd.Flags().String("port", "8443", "HTTP listen port")
	keyserverServeCmd.Flags().String("cert", "", "server TLS certificate (PEM)")
	keyserverServeCmd.Flags().String("key", "", "server TLS private key (PEM)")
	keyserverServeCmd.Flags().String("client-ca", "", "CA bundle (PEM) trusted for client certificate auth; enables mutual TLS")
	keyserverServeCmd.Flags().Float64("rate", 50, "fetch_key/put_key requests allowed per second")
	keyserverServeCmd.Flags().Int("burst", 20, "fetch_key/put_key burst size")

	for _, name := range []string{"db-type", "db-dsn", "ip", "port", "cert", "key", "client-ca", "rate", "burst"} {
		viper.BindPFlag("keyserver."+name, keyserverServeCmd.Flags().Lookup(name))
	}
}

func openKeyserverDB(dbc DatabaseConfig) (*gorm.DB, error) {
	switch dbc.Type {
	case "sqlite":
		return gorm.Open(sqlite.Open(dbc.DSN), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(dbc.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbc.Type)
	}
}

func buildKeyserverTLSConfig(http HTTPConfig, clientCAPath string) (*tls.Config, error) {
	if !http.useTLS() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(http.CertPath, http.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if clientCAPath != "" {
		caPEM, err := os.ReadFile(clientCAPath)
		if err != nil {
			return nil, fmt.Errorf("reading client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates parsed from %s", clientCAPath)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func runKeyserverServe(c *cobra.Command, args []string) error {
	dbc := DatabaseConfig{Type: viper.GetString("keyserver.db-type"), DSN: viper.GetString("keyserver.db-dsn")}
	if err := dbc.validate(); err != nil {
		return err
	}
	httpc := HTTPConfig{
		IP:       viper.GetString("keyserver.ip"),
		Port:     viper.GetString("keyserver.port"),
		CertPath: viper.GetString("keyserver.cert"),
		KeyPath:  viper.GetString("keyserver.key"),
	}
	if err := httpc.validate(); err != nil {
		return err
	}

	db, err := openKeyserverDB(dbc)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	store, err := keyserver.NewStore(db)
	if err != nil {
		return fmt.Errorf("migrating transaction table: %w", err)
	}

	tlsConfig, err := buildKeyserverTLSConfig(httpc, viper.GetString("keyserver.client-ca"))
	if err != nil {
		return err
	}

	srv := keyserver.NewServer(httpc.listenAddress(), store, tlsConfig,
		viper.GetFloat64("keyserver.rate"), viper.GetInt("keyserver.burst"))
	return srv.Serve()
}
