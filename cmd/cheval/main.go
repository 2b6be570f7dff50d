// Cheval is an authenticated LLM proxy sidecar: it forwards signed chat
// completion requests to an OpenAI-compatible provider, normalizes the
// response, and records usage to an append-only ledger.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/cheval.yaml", "path to config file")
	oneshotMode := flag.Bool("oneshot", false, "read a single CanonicalRequest from stdin, invoke once, print the result, and exit")
	sweepBreakers := flag.Bool("sweep-breakers", false, "remove stale circuit-breaker state files from the run directory and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cheval", version)
		os.Exit(0)
	}

	if *sweepBreakers {
		if err := runSweep(*configPath, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *oneshotMode {
		raw, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read stdin: %v\n", err)
			os.Exit(5)
		}
		code, err := runOneshot(*configPath, raw, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
