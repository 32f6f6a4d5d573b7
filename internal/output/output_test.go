package output

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
	"jvminstr/internal/passes"
)

func TestWriteSitesJSONL(t *testing.T) {
	dir := t.TempDir()
	sites := []passes.Site{
		{Class: "A", Method: "f()I", Pass: "callresult", Offset: 3, Inst: "invokestatic", Detail: "A.g()I"},
		{Class: "A", Method: "f()I", Pass: "usage", Offset: 0, Inst: "iconst_0"},
	}
	require.NoError(t, WriteSitesJSONL(dir, sites))

	f, err := os.Open(filepath.Join(dir, "sites.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []passes.Site
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s passes.Site
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		got = append(got, s)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, sites, got)
}

func TestWriteListing(t *testing.T) {
	dir := t.TempDir()
	pool := cpool.New()
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "()V"}
	s := bytecode.NewStream("pkg/A", m)
	s.Append(bytecode.Simple(bytecode.NOP), bytecode.Simple(bytecode.RETURN))
	_, err := s.Encode(pool)
	require.NoError(t, err)

	require.NoError(t, WriteListing(dir, "pkg/A/f", s, pool))
	data, err := os.ReadFile(filepath.Join(dir, "listing", "pkg", "A", "f.txt"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "return"))
}

func TestWriteReportJSON(t *testing.T) {
	dir := t.TempDir()
	in := []ClassReport{{Class: "A", Path: "A.class", Passes: []string{"usage"}, Rewritten: []string{"f()V"}, Sites: 2, SizeIn: 100, SizeOut: 140}}
	require.NoError(t, WriteReportJSON(dir, in))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var out []ClassReport
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
