package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jvminstr/internal/passes"
)

func TestParse_Defaults(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(30), p.FieldRead.Threshold)
	assert.Equal(t, "m", p.Usage.ReservedPrefix)
	assert.Equal(t, "InstructionsUsageStatistics", p.Usage.Sidecar)
	assert.Equal(t, uint64(5), p.Usage.ReportThreshold)
	assert.Equal(t, passes.ModeStrict, p.Options().Mode)
}

func TestParse_Overrides(t *testing.T) {
	p, err := Parse([]byte(`
[instrument]
passes = ["usage", "fieldread"]
best-effort = true
strict-reachability = true

[fieldread]
threshold = 100
static = true

[usage]
sidecar = "com/acme/Stats"
reserved-prefix = ""
`))
	require.NoError(t, err)

	opts := p.Options()
	assert.Equal(t, passes.ModeBestEffort, opts.Mode)
	assert.True(t, opts.Flow.StrictReachability)

	ps, err := p.Passes()
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, &passes.UsageCounter{Sidecar: "com/acme/Stats", ReservedPrefix: ""}, ps[0])
	assert.Equal(t, &passes.FieldRead{Threshold: 100, Static: true}, ps[1])

	ps, err = p.Passes("callresult")
	require.NoError(t, err)
	assert.Equal(t, []passes.Pass{passes.CallResult{}}, ps)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte(`[instrument]
passes = ["nope"]`))
	assert.ErrorIs(t, err, ErrUnknownPass)

	_, err = Parse([]byte(`[usage]
colour = "red"`))
	assert.Error(t, err)

	_, err = Parse([]byte(`[fieldread`))
	assert.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("[fieldread]\nthreshold = 7\n"), 0644))

	p, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int32(7), p.FieldRead.Threshold)
	assert.Equal(t, root, p.Dir)

	_, err = Load(nested)
	assert.Error(t, err)
}
