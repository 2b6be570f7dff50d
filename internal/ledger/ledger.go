// Package ledger implements the append-only JSONL cost ledger and the
// daily-spend sidecar counter of spec.md §4.2. The ledger is observability
// only: it is never consulted to make a decision in the core.
package ledger

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/filelock"
)

// Append writes entry as one JSON line to path, creating the parent
// directory if missing. Relies on the filesystem's atomic append semantics;
// no lock is taken (spec §9: "Avoid long-held locks... ledger files rely on
// atomic append semantics").
func Append(entry cheval.LedgerEntry, path string) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	return filelock.AppendAtomic(path, line)
}

// ReadAll returns every successfully parsed line of path in insertion order.
// A malformed line is skipped with a logged warning rather than aborting the
// read, matching spec §3's LedgerEntry invariant.
func ReadAll(path string) ([]cheval.LedgerEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []cheval.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry cheval.LedgerEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("ledger: skipping malformed line", "path", path, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// dailySpend is the on-disk shape of the daily-spend sidecar file.
type dailySpend struct {
	TotalMicroUSD int64 `json:"total_micro_usd"`
}

// UpdateDailySpend reads the daily-spend counter at path, adds deltaMicro,
// writes the result back under an exclusive lock, and returns the new total.
// A missing or corrupt file degrades to a zero starting balance rather than
// failing (spec §4.2: "Corruption must degrade to zero, not crash").
func UpdateDailySpend(deltaMicro int64, path string) (int64, error) {
	current := readDailySpend(path)
	current.TotalMicroUSD += deltaMicro
	data, err := json.Marshal(current)
	if err != nil {
		return 0, err
	}
	if err := filelock.WriteExclusive(path, data); err != nil {
		return 0, err
	}
	return current.TotalMicroUSD, nil
}

func readDailySpend(path string) dailySpend {
	data, err := os.ReadFile(path)
	if err != nil {
		return dailySpend{}
	}
	var d dailySpend
	if err := json.Unmarshal(data, &d); err != nil {
		return dailySpend{}
	}
	return d
}
