// Command client is a small CLI against a running server's introspection
// HTTP API: list stores, fetch status, or trigger a truncate/flush.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8090", "server introspection HTTP API base URL")
	cmd := flag.String("cmd", "list", "list | status | truncate | flush")
	storeID := flag.Uint64("store-id", 0, "store id (status/truncate/flush)")
	uptoLSN := flag.Int64("upto-lsn", 0, "truncation/flush boundary; omitted from the flush request when unset, which flushes everything issued")
	inMemoryOnly := flag.Bool("in-memory-only", true, "truncate in-memory only, deferring device reclaim")
	flag.Parse()

	var uptoLSNSet bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "upto-lsn" {
			uptoLSNSet = true
		}
	})

	var (
		resp *http.Response
		err  error
	)

	switch *cmd {
	case "list":
		resp, err = http.Get(*baseURL + "/stores")
	case "status":
		resp, err = http.Get(fmt.Sprintf("%s/stores/%d/status", *baseURL, *storeID))
	case "truncate":
		url := fmt.Sprintf("%s/stores/%d/truncate?upto_lsn=%d&in_memory_only=%t", *baseURL, *storeID, *uptoLSN, *inMemoryOnly)
		resp, err = http.Post(url, "application/json", nil)
	case "flush":
		url := fmt.Sprintf("%s/stores/%d/flush", *baseURL, *storeID)
		if uptoLSNSet {
			url += fmt.Sprintf("?upto_lsn=%d", *uptoLSN)
		}
		resp, err = http.Post(url, "application/json", nil)
	default:
		log.Fatalf("unknown -cmd %q", *cmd)
	}
	if err != nil {
		log.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pretty)
		return
	}
	fmt.Println(string(body))
}
