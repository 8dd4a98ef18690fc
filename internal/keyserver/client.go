package keyserver

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	cdocerr "github.com/cdoc-project/cdoc/errs"
)

// Client implements backend.NetworkBackend over mutual-TLS HTTP, grounded
// on the teacher's transport "github.com/fido-device-onboard/go-fdo/http"
// separation of client cert / peer cert / signer into three independently
// suppliable pieces.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	ClientCert []byte   // DER
	PeerCerts  [][]byte // DER, used to pin the server
	Signer     crypto.Signer
}

// NewClient constructs a Client configured for mutual TLS using clientCert
// (with its private key held by signer) and pinned to peerCerts.
func NewClient(baseURL string, clientCert []byte, signer crypto.Signer, peerCerts [][]byte) (*Client, error) {
	pool := x509.NewCertPool()
	for _, der := range peerCerts {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, cdocerr.Wrap(cdocerr.InvalidParams, "parsing pinned peer certificate", err)
		}
		pool.AddCert(cert)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{clientCert},
				PrivateKey:  signer,
			}},
		},
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Transport: transport},
		ClientCert: clientCert,
		PeerCerts:  peerCerts,
		Signer:     signer,
	}, nil
}

// FetchKey retrieves the sender's ephemeral public key for transactionID
// from the key server.
func (c *Client) FetchKey(keyserverID, transactionID string) ([]byte, error) {
	u, err := url.Parse(c.BaseURL + "/fetch-key")
	if err != nil {
		return nil, cdocerr.Wrap(cdocerr.InvalidParams, "bad key server base URL", err)
	}
	q := u.Query()
	q.Set("keyserver_id", keyserverID)
	q.Set("transaction_id", transactionID)
	u.RawQuery = q.Encode()

	resp, err := c.HTTPClient.Get(u.String())
	if err != nil {
		return nil, cdocerr.Wrap(cdocerr.IOError, "fetch_key request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, cdocerr.New(cdocerr.IOError, fmt.Sprintf("fetch_key: server returned %d: %s", resp.StatusCode, body))
	}
	var out struct {
		SenderPub []byte `json:"sender_pub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cdocerr.Wrap(cdocerr.IOError, "decoding fetch_key response", err)
	}
	return out.SenderPub, nil
}

func (c *Client) GetClientTLSCertificate() ([]byte, error) { return c.ClientCert, nil }

func (c *Client) GetPeerTLSCertificates() ([][]byte, error) { return c.PeerCerts, nil }

func (c *Client) SignTLS(alg string, digest []byte) ([]byte, error) {
	if c.Signer == nil {
		return nil, cdocerr.New(cdocerr.NotSupported, "client has no TLS signer configured")
	}
	opts := crypto.SignerOpts(crypto.SHA256)
	if alg == "rsa-pss" {
		opts = &rsa.PSSOptions{Hash: crypto.SHA256, SaltLength: rsa.PSSSaltLengthEqualsHash}
	}
	return c.Signer.Sign(rand.Reader, digest, opts)
}
