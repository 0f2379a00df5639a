package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"datalayr/cmd/internal/passphrase"
	"datalayr/crypto"
	"datalayr/indexer"
	"datalayr/native/datastore"
)

const (
	defaultPassEnv  = "DATALAYR_KEYSTORE_PASS"
	defaultConfig   = "./config.toml"
	defaultKeystore = "operator.keystore"
	tokenEnv        = "DATALAYR_RPC_TOKEN"
)

// nodeConfig is the subset of the node configuration dlctl reads to find the
// RPC endpoint and event index.
type nodeConfig struct {
	ListenAddress string `toml:"ListenAddress"`
	IndexerDSN    string `toml:"IndexerDSN"`
}

type secretSource interface {
	Get() (string, error)
}

type cli struct {
	out     io.Writer
	secrets func(envVar string) secretSource
	client  *http.Client
}

func main() {
	c := &cli{
		out: os.Stdout,
		secrets: func(envVar string) secretSource {
			return passphrase.NewSource(envVar, "Enter operator keystore passphrase: ")
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}
	if err := c.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dlctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen   generate an operator key and write it to a keystore")
	fmt.Fprintln(w, "  address  print the address and public key held in a keystore")
	fmt.Fprintln(w, "  digest   compute the digest operators sign for a data store")
	fmt.Fprintln(w, "  sign     sign a data store digest with a keystore key")
	fmt.Fprintln(w, "  call     send a JSON-RPC request to a running dlnode")
	fmt.Fprintln(w, "  export   write indexed events to a parquet file")
}

func (c *cli) run(args []string) error {
	if len(args) < 1 {
		usage(c.out)
		return errors.New("missing command")
	}
	switch args[0] {
	case "keygen":
		return c.keygen(args[1:])
	case "address":
		return c.address(args[1:])
	case "digest":
		return c.digest(args[1:])
	case "sign":
		return c.sign(args[1:])
	case "call":
		return c.call(args[1:])
	case "export":
		return c.export(args[1:])
	case "help", "-h", "--help":
		usage(c.out)
		return nil
	default:
		usage(c.out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *cli) keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *keystorePath)
		}
	}
	pass, err := c.secrets(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return c.printKey(key)
}

func (c *cli) address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := c.loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	return c.printKey(key)
}

func (c *cli) printKey(key *crypto.PrivateKey) error {
	return c.printJSON(map[string]string{
		"address": key.PubKey().Address().String(),
		"pubKey":  "0x" + hex.EncodeToString(key.PubKey().Compressed()),
	})
}

func (c *cli) loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := c.secrets(passEnv).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key, nil
}

type digestFlags struct {
	dump    *uint64
	content *string
	bytes   *uint64
}

func bindDigestFlags(fs *flag.FlagSet) digestFlags {
	return digestFlags{
		dump:    fs.Uint64("dump", 0, "Dump number assigned by datastore_init"),
		content: fs.String("content", "", "Hex-encoded 32-byte content digest"),
		bytes:   fs.Uint64("bytes", 0, "Total bytes of the stored payload"),
	}
}

func (f digestFlags) signedDigest() ([32]byte, error) {
	var content [32]byte
	if *f.dump == 0 {
		return content, errors.New("-dump is required")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*f.content), "0x"))
	if err != nil {
		return content, fmt.Errorf("invalid -content: %w", err)
	}
	if len(raw) != len(content) {
		return content, fmt.Errorf("-content must be 32 bytes, got %d", len(raw))
	}
	copy(content[:], raw)
	return datastore.SignedDigest(*f.dump, content, *f.bytes), nil
}

func (c *cli) digest(args []string) error {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	flags := bindDigestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	digest, err := flags.signedDigest()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "0x%x\n", digest)
	return nil
}

func (c *cli) sign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	flags := bindDigestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	digest, err := flags.signedDigest()
	if err != nil {
		return err
	}
	key, err := c.loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return err
	}
	// Shaped as one entry of the datastore_confirm signatures array.
	return c.printJSON(map[string]string{
		"signer":    key.PubKey().Address().String(),
		"signature": "0x" + hex.EncodeToString(sig),
	})
}

func (c *cli) call(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Node config used to locate the RPC endpoint")
	endpoint := fs.String("endpoint", "", "RPC URL; overrides -config")
	params := fs.String("params", "", "JSON object passed as the single request parameter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: dlctl call [flags] <method>")
	}
	url, err := resolveEndpoint(*endpoint, *configPath)
	if err != nil {
		return err
	}
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": fs.Arg(0)}
	if trimmed := strings.TrimSpace(*params); trimmed != "" {
		if !json.Valid([]byte(trimmed)) {
			return errors.New("-params is not valid JSON")
		}
		req["params"] = []json.RawMessage{json.RawMessage(trimmed)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	fmt.Fprintln(c.out, out.String())
	return nil
}

func (c *cli) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Node config used to locate the event index")
	dsn := fs.String("dsn", "", "Event index DSN; overrides -config")
	outPath := fs.String("out", "events.parquet", "Output parquet file")
	module := fs.String("module", "", "Only export events of this module")
	eventType := fs.String("type", "", "Only export events of this type")
	from := fs.Uint64("from", 0, "First block height (inclusive)")
	to := fs.Uint64("to", 0, "Last block height (inclusive)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	source := strings.TrimSpace(*dsn)
	if source == "" {
		var cfg nodeConfig
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		source = strings.TrimSpace(cfg.IndexerDSN)
	}
	if source == "" {
		return errors.New("no event index configured; set IndexerDSN or pass -dsn")
	}
	idx, err := indexer.Open(source, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer idx.Close()
	n, err := idx.ExportParquet(context.Background(), *outPath, indexer.Filter{
		Module:     *module,
		Type:       *eventType,
		FromHeight: *from,
		ToHeight:   *to,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %d events to %s\n", n, *outPath)
	return nil
}

func resolveEndpoint(explicit, configPath string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	var cfg nodeConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	addr := strings.TrimSpace(cfg.ListenAddress)
	if addr == "" {
		addr = ":8545"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/rpc", nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
