package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
	"hsa-planner/internal/session"
)

// setupEnv points configuration at a temp audit database and the embedded
// policies, with no env file.
func setupEnv(t *testing.T) (envFile, auditPath string) {
	t.Helper()
	dir := t.TempDir()
	auditPath = filepath.Join(dir, "audit.db")
	for _, k := range []string{"APP_ENV", "SESSION_STORE", "REDIS_URL", "POLICY_FILE", "TAX_YEAR", "SESSION_IDLE_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("APP_ENV", "test")
	t.Setenv("AUDIT_DB_PATH", auditPath)
	return filepath.Join(dir, "none.env"), auditPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCalcJSON(t *testing.T) {
	envFile, _ := setupEnv(t)

	out, err := run(t, "", "--env-file", envFile, "calc",
		"--year", "2025", "--today", "2025-10-01",
		"--coverage", "family", "--ytd", "6000", "--catch-up", "--periods", "12")
	require.NoError(t, err, out)

	var got calcOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Result.TotalAllowed.Equal(money.MustParse("9550")))
	assert.True(t, got.Result.RemainingContribution.Equal(money.MustParse("3550")))
	assert.Equal(t, model.PlanPerPeriod, got.Plan.Kind)
	assert.True(t, got.Plan.PerPeriod.Equal(money.MustParse("290")))
}

func TestCalcWithFactsSummary(t *testing.T) {
	envFile, _ := setupEnv(t)

	out, err := run(t, "", "--env-file", envFile, "calc", "--summary",
		"--year", "2025", "--today", "2025-10-01",
		"--coverage", "individual", "--periods", "8",
		"--fact", "enrolled 2025-04-01", "--fact", "employer 500")
	require.NoError(t, err, out)

	assert.Contains(t, out, "$3,225.00")
	assert.Contains(t, out, "plus $500.00 from your employer")
	assert.Contains(t, out, "Remaining: $2,725.00")
}

func TestCalcRejectsBadInput(t *testing.T) {
	envFile, _ := setupEnv(t)

	_, err := run(t, "", "--env-file", envFile, "calc", "--coverage", "couple")
	assert.Error(t, err)

	_, err = run(t, "", "--env-file", envFile, "calc", "--coverage", "individual", "--fact", "my dog is 3")
	assert.Error(t, err)

	_, err = run(t, "", "--env-file", envFile, "calc", "--coverage", "individual", "--year", "1999")
	assert.Error(t, err)
}

func TestPolicyCommands(t *testing.T) {
	envFile, _ := setupEnv(t)

	out, err := run(t, "", "--env-file", envFile, "policy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "YEAR")
	assert.Contains(t, out, "2025")
	assert.Contains(t, out, "$4,300.00")
	assert.Contains(t, out, "$8,550.00")

	out, err = run(t, "", "--env-file", envFile, "policy", "2025")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"year": 2025`)

	_, err = run(t, "", "--env-file", envFile, "policy", "1999")
	assert.Error(t, err)
}

var sessionLine = regexp.MustCompile(`session (\S+), revision (\d+), (\w+)`)

func TestChatThenAuditReplay(t *testing.T) {
	envFile, _ := setupEnv(t)

	out, err := run(t, "family\n$6,000\nyes\n12\n", "--env-file", envFile, "chat", "--year", "2025")
	require.NoError(t, err, out)
	assert.Contains(t, out, "individual (self-only) or family")
	assert.Contains(t, out, "$9,550.00")

	m := sessionLine.FindStringSubmatch(out)
	require.Len(t, m, 4, out)
	assert.Equal(t, "5", m[2])
	assert.Equal(t, string(model.StageComplete), m[3])

	out, err = run(t, "", "--env-file", envFile, "audit", m[1])
	require.NoError(t, err, out)
	var rec session.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, uint64(5), rec.Revision)
	assert.Equal(t, model.StageComplete, rec.Stage)
	require.NotNil(t, rec.Plan)

	out, err = run(t, "", "--env-file", envFile, "audit", m[1], "--revision", "2")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, uint64(2), rec.Revision)
	assert.Equal(t, model.CoverageFamily, rec.Snapshot.Coverage)
	assert.Nil(t, rec.Result)

	out, err = run(t, "", "--env-file", envFile, "audit", m[1], "--history")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"revisions"`)
	assert.Contains(t, out, `"calculations"`)
}

func TestChatQuitKeepsSessionOpen(t *testing.T) {
	envFile, _ := setupEnv(t)

	out, err := run(t, "individual\n/quit\n", "--env-file", envFile, "chat", "--year", "2025")
	require.NoError(t, err, out)
	m := sessionLine.FindStringSubmatch(out)
	require.Len(t, m, 4, out)
	assert.Equal(t, "2", m[2])
	assert.Equal(t, string(model.StageCollecting), m[3])
}
