// Command gateway-cli is a thin HTTP client for a running gateway:
// timestamp, get, verify, and config subcommands.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/witnessnet/gateway/internal/attestation"
)

const (
	exitOK               = 0
	exitFailedOrNotFound = 1
	exitUsage            = 2
	exitNetwork          = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var code int
	switch cmd {
	case "timestamp":
		code = runTimestamp(args)
	case "get":
		code = runGet(args)
	case "verify":
		code = runVerify(args)
	case "config":
		code = runConfig(args)
	default:
		usage()
		code = exitUsage
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gateway-cli <timestamp|get|verify|config> -gateway <url> [args...]")
}

var client = &http.Client{Timeout: 10 * time.Second}

func runTimestamp(args []string) int {
	fs := flag.NewFlagSet("timestamp", flag.ContinueOnError)
	gateway := fs.String("gateway", "", "gateway base URL")
	hash := fs.String("hash", "", "hex-encoded 32-byte fingerprint")
	if err := fs.Parse(args); err != nil || *gateway == "" || *hash == "" {
		usage()
		return exitUsage
	}

	body, _ := json.Marshal(map[string]string{"hash": *hash})
	resp, err := client.Post(*gateway+"/v1/timestamp", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "network error:", err)
		return exitNetwork
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		printErrorBody(resp.Body)
		return exitFailedOrNotFound
	}
	var signed attestation.SignedAttestation
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		fmt.Fprintln(os.Stderr, "decode error:", err)
		return exitNetwork
	}
	printJSON(signed)
	return exitOK
}

func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	gateway := fs.String("gateway", "", "gateway base URL")
	hash := fs.String("hash", "", "hex-encoded 32-byte fingerprint")
	if err := fs.Parse(args); err != nil || *gateway == "" || *hash == "" {
		usage()
		return exitUsage
	}

	resp, err := client.Get(*gateway + "/v1/timestamp/" + *hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, "network error:", err)
		return exitNetwork
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("not found")
		return exitFailedOrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		printErrorBody(resp.Body)
		return exitFailedOrNotFound
	}
	var signed attestation.SignedAttestation
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		fmt.Fprintln(os.Stderr, "decode error:", err)
		return exitNetwork
	}
	printJSON(signed)
	return exitOK
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	gateway := fs.String("gateway", "", "gateway base URL")
	file := fs.String("file", "", "path to a JSON-encoded signed attestation, or - for stdin")
	if err := fs.Parse(args); err != nil || *gateway == "" || *file == "" {
		usage()
		return exitUsage
	}

	var raw []byte
	var err error
	if *file == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*file)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "read error:", err)
		return exitUsage
	}

	resp, err := client.Post(*gateway+"/v1/verify", "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "network error:", err)
		return exitNetwork
	}
	defer resp.Body.Close()

	var out struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintln(os.Stderr, "decode error:", err)
		return exitNetwork
	}
	if !out.Valid {
		fmt.Println("invalid:", out.Reason)
		return exitFailedOrNotFound
	}
	fmt.Println("valid")
	return exitOK
}

func runConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	gateway := fs.String("gateway", "", "gateway base URL")
	if err := fs.Parse(args); err != nil || *gateway == "" {
		usage()
		return exitUsage
	}

	resp, err := client.Get(*gateway + "/v1/config")
	if err != nil {
		fmt.Fprintln(os.Stderr, "network error:", err)
		return exitNetwork
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printErrorBody(resp.Body)
		return exitFailedOrNotFound
	}
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return exitOK
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func printErrorBody(r io.Reader) {
	io.Copy(os.Stderr, r)
	fmt.Fprintln(os.Stderr)
}
