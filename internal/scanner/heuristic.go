package scanner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/revsync/revsync/internal/bincheck"
)

// HeuristicScanner is the fallback when no external scanner is reachable:
// magic-byte triage only. Its verdicts are advisory and are recorded as
// such in the validation report.
type HeuristicScanner struct{}

func NewHeuristicScanner() *HeuristicScanner { return &HeuristicScanner{} }

func (s *HeuristicScanner) Mode() string { return "heuristic" }

func (s *HeuristicScanner) Scan(ctx context.Context, path string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return false, "", fmt.Errorf("open file for scan: %w", err)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return false, "", fmt.Errorf("read file for scan: %w", err)
	}

	if desc, ok := bincheck.MatchesExecutableSignature(header[:n]); ok {
		return false, "HEUR.Executable: " + desc, nil
	}
	return true, "", nil
}
