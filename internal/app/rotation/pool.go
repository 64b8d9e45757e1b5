// Package rotation hands out spare social tokens to identities whose token
// was rejected.
package rotation

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrPoolExhausted = errors.New("spare token pool exhausted")

// Pool is shared by every identity of a run. Acquisition and the token file
// rewrite happen under one lock.
type Pool struct {
	mu        sync.Mutex
	spare     []string
	tokenFile string
	spareFile string
}

// New builds a pool over spare. tokenFile is the per-identity token list
// rewritten on every swap; spareFile, when set, is rewritten to the
// remaining spares. Either may be empty.
func New(spare []string, tokenFile, spareFile string) *Pool {
	cleaned := make([]string, 0, len(spare))
	seen := map[string]bool{}
	for _, tok := range spare {
		tok = strings.TrimSpace(tok)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		cleaned = append(cleaned, tok)
	}
	return &Pool{spare: cleaned, tokenFile: tokenFile, spareFile: spareFile}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.spare)
}

// AcquireReplacement pops the next spare token and records the swap of
// failed for it in the token file. A popped token is never handed out again.
func (p *Pool) AcquireReplacement(failed string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.spare) == 0 {
		return "", ErrPoolExhausted
	}
	next := p.spare[0]
	p.spare = p.spare[1:]

	if p.tokenFile != "" {
		if err := rewriteTokenFile(p.tokenFile, strings.TrimSpace(failed), next); err != nil {
			return next, fmt.Errorf("failed to update token file: %w", err)
		}
	}
	if p.spareFile != "" {
		if err := writeLines(p.spareFile, p.spare); err != nil {
			return next, fmt.Errorf("failed to update spare token file: %w", err)
		}
	}
	return next, nil
}

// rewriteTokenFile replaces the first line equal to oldToken with newToken,
// drops repeats of either, and appends newToken when oldToken is absent.
func rewriteTokenFile(path, oldToken, newToken string) error {
	lines, err := readLines(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	out := make([]string, 0, len(lines)+1)
	replaced := false
	for _, line := range lines {
		tok := strings.TrimSpace(line)
		switch {
		case tok == newToken:
			continue
		case oldToken != "" && tok == oldToken:
			if !replaced {
				out = append(out, newToken)
				replaced = true
			}
		default:
			out = append(out, line)
		}
	}
	if !replaced {
		out = append(out, newToken)
	}
	return writeLines(path, out)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}

// writeLines replaces path atomically.
func writeLines(path string, lines []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
