// Command witness runs a single witness's signing endpoint, or, with
// -generate-key, bootstraps a fresh witness identity and exits.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/witnessnet/gateway/internal/crypto"
	"github.com/witnessnet/gateway/internal/trustboot"
	"github.com/witnessnet/gateway/internal/witness"
)

func main() {
	generateKey := flag.Bool("generate-key", false, "generate a fresh witness identity and exit")
	bls := flag.Bool("bls", false, "use the BLS signature scheme instead of Ed25519")
	witnessID := flag.String("witness-id", "", "witness identifier (required)")
	outDir := flag.String("out", ".", "directory to write generated key material into")
	port := flag.Int("port", 9000, "port to listen on")
	networkID := flag.String("network-id", "", "network this witness signs for (required in server mode)")
	keyHex := flag.String("private-key", "", "hex-encoded domain private key (required in server mode)")
	flag.Parse()

	if *witnessID == "" {
		fmt.Fprintln(os.Stderr, "-witness-id is required")
		os.Exit(2)
	}

	scheme := crypto.Ed25519
	if *bls {
		scheme = crypto.BLS
	}

	if *generateKey {
		runGenerateKey(*witnessID, scheme, *outDir)
		return
	}

	if *networkID == "" || *keyHex == "" {
		fmt.Fprintln(os.Stderr, "-network-id and -private-key are required in server mode")
		os.Exit(2)
	}
	runServer(*witnessID, *networkID, scheme, *keyHex, *port)
}

func runGenerateKey(witnessID string, scheme crypto.SchemeType, outDir string) {
	identity, err := trustboot.Generate(witnessID, scheme)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate identity: %v\n", err)
		os.Exit(3)
	}

	writeFile := func(name string, data []byte) {
		path := outDir + "/" + name
		if err := os.WriteFile(path, data, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", path, err)
			os.Exit(3)
		}
		fmt.Println("wrote", path)
	}

	writeFile(witnessID+".cert.pem", identity.CertPEM)
	writeFile(witnessID+".cert-key.pem", identity.CertKeyPEM)
	writeFile(witnessID+".private-key.hex", []byte(hex.EncodeToString(identity.PrivateKey)))
	writeFile(witnessID+".public-key.hex", []byte(hex.EncodeToString(identity.PublicKey)))

	fmt.Printf("witness_id=%s scheme=%s public_key=%s\n", witnessID, scheme, hex.EncodeToString(identity.PublicKey))
}

func runServer(witnessID, networkID string, schemeType crypto.SchemeType, keyHex string, port int) {
	scheme, err := crypto.New(schemeType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid scheme: %v\n", err)
		os.Exit(2)
	}
	privKey, err := hex.DecodeString(keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -private-key hex: %v\n", err)
		os.Exit(2)
	}

	srv := witness.NewServer(witness.Config{
		WitnessID:  witnessID,
		NetworkID:  networkID,
		Scheme:     scheme,
		PrivateKey: privKey,
	})
	handler := witness.NewHandler(srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	fmt.Printf("witness %q serving network %q on :%d\n", witnessID, networkID, port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
