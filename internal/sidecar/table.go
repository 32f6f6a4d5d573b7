// Package sidecar holds the instruction usage table: the Go census used by
// tooling and the JVM class that instrumented programs report into.
package sidecar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultThreshold is the smallest count a report lists.
const DefaultThreshold = 5

var ErrBadReport = errors.New("sidecar: malformed report line")

// Entry is one row of a table snapshot.
type Entry struct {
	Mnemonic string `json:"mnemonic"`
	Count    uint64 `json:"count"`
}

// Table counts instruction executions by mnemonic. The zero value is
// ready to use and safe for concurrent use.
type Table struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewTable() *Table { return &Table{counts: make(map[string]uint64)} }

// Register counts one use of the mnemonic.
func (t *Table) Register(mnemonic string) { t.Add(mnemonic, 1) }

func (t *Table) Add(mnemonic string, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[string]uint64)
	}
	t.counts[mnemonic] += n
}

func (t *Table) Count(mnemonic string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[mnemonic]
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// Merge adds every count of o.
func (t *Table) Merge(o *Table) {
	for _, e := range o.Snapshot() {
		t.Add(e.Mnemonic, e.Count)
	}
}

// Snapshot returns the counts sorted by mnemonic.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.counts))
	for m, n := range t.counts {
		out = append(out, Entry{Mnemonic: m, Count: n})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Mnemonic < out[j].Mnemonic })
	return out
}

// Report writes "<MNEMONIC>    <count>" lines for counts of at least threshold,
// in the format the JVM sidecar prints at exit.
func (t *Table) Report(w io.Writer, threshold uint64) error {
	for _, e := range t.Snapshot() {
		if e.Count < threshold {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s    %d\n", strings.ToUpper(e.Mnemonic), e.Count); err != nil {
			return err
		}
	}
	return nil
}

// ReadReport parses report lines back into a table. Mnemonics are stored
// in lower case; blank lines are skipped.
func ReadReport(r io.Reader) (*Table, error) {
	t := NewTable()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrBadReport, line, sc.Text())
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadReport, line, err)
		}
		t.Add(strings.ToLower(fields[0]), n)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
