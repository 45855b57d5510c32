package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/runstatus"
	"github.com/ccfpipelines/icafixsubmit/pkg/stage"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

func TestParseSubmitArgs(t *testing.T) {
	a, err := parseSubmitArgs([]string{"HCP_1200", "100307", "3T", "True", "process_data", "48", "32", "MultiRunIcaFix"})
	require.NoError(t, err)
	assert.Equal(t, subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"}, a.Subject)
	assert.True(t, a.CleanOutputFirst)
	assert.Equal(t, stage.ProcessData, a.Stage)
	assert.Equal(t, "48", a.WalltimeHours)
	assert.Equal(t, "32", a.MemoryGB)
	assert.Equal(t, "MultiRunIcaFix", a.ResourceSuffix)

	bad := []struct {
		name string
		args []string
	}{
		{"too few", []string{"P", "S", "C"}},
		{"empty subject", []string{"P", "", "C", "false", "GET_DATA", "1", "1", "x"}},
		{"bool expression", []string{"P", "S", "C", "1==1", "GET_DATA", "1", "1", "x"}},
		{"unknown stage", []string{"P", "S", "C", "false", "CLEAN_DATA", "1", "1", "x"}},
		{"empty walltime", []string{"P", "S", "C", "false", "GET_DATA", " ", "1", "x"}},
		{"empty memory", []string{"P", "S", "C", "false", "GET_DATA", "1", "", "x"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSubmitArgs(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseSubmitArgs_ResourceValuesVerbatim(t *testing.T) {
	for _, v := range [][2]string{{"048", "32"}, {"24", "2.5"}, {"0", "16"}} {
		a, err := parseSubmitArgs([]string{"HCP_1200", "100307", "3T", "false", "GET_DATA", v[0], v[1], "x"})
		require.NoError(t, err)
		assert.Equal(t, v[0], a.WalltimeHours)
		assert.Equal(t, v[1], a.MemoryGB)
	}
}

func TestPrintBlocked(t *testing.T) {
	var buf bytes.Buffer
	printBlocked(&buf, subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"}, "JOBS ARE ALREADY QUEUED OR RUNNING")

	assert.Equal(t, strings.Join([]string{
		"-----",
		"NOT SUBMITTING JOBS FOR",
		"project: HCP_1200",
		"subject: 100307",
		"session classifier: 3T",
		"JOBS ARE ALREADY QUEUED OR RUNNING",
		"Process terminated",
		"",
	}, "\n"), buf.String())
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	p := params.Parameters{
		Subject:              subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"},
		PutServer:            "http://put1.example.org",
		WalltimeHours:        "048",
		MemoryGB:             "32",
		OutputResourceSuffix: "MultiRunIcaFix",
	}
	printBanner(&buf, p, submitArgs{Stage: stage.PutData})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "-----\n\tSubmitting MultiRunIcaFixProcessing jobs for:\n"))
	assert.Contains(t, out, "project: HCP_1200")
	assert.Contains(t, out, "put_server: http://put1.example.org")
	assert.Contains(t, out, "clean_output_first: false")
	assert.Contains(t, out, "processing_stage: PUT_DATA")
	assert.Contains(t, out, "walltime_limit_hrs: 048")
	assert.Contains(t, out, "output_resource_suffix: MultiRunIcaFix")
}

// cluster is a fake PBS site: qsub/qstat scripts, a marker program and an
// archive holding one session.
type cluster struct {
	bin       string
	buildHome string
	registry  string
	history   string
}

func writeExecutable(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake scheduler uses POSIX shell scripts")
	}

	c := &cluster{
		bin:       t.TempDir(),
		buildHome: t.TempDir(),
		registry:  t.TempDir(),
		history:   filepath.Join(t.TempDir(), "history.db"),
	}
	jobsHome := t.TempDir()
	archiveRoot := t.TempDir()

	writeExecutable(t, filepath.Join(c.bin, "qsub"), `#!/bin/sh
dir=$(dirname "$0")
n=$(cat "$dir/qsub.count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/qsub.count"
echo "$*" >> "$dir/qsub.log"
echo "$n.pbs"
`)
	writeExecutable(t, filepath.Join(c.bin, "qstat"), `#!/bin/sh
echo "Job ID                    Name             User            Time Use S Queue"
echo "------------------------- ---------------- --------------- -------- - -----"
echo "$1                        job.sh           hcpuser         00:00:00 Q batch"
`)
	writeExecutable(t, filepath.Join(jobsHome, "MultiRunIcaFixProcessing", "MultiRunIcaFixProcessing.XNAT_MARK_RUNNING_STATUS"), `#!/bin/sh
echo "marked $*"
`)

	resources := filepath.Join(archiveRoot, "HCP_1200", "arc001", "100307_3T", "RESOURCES")
	for _, d := range []string{"rfMRI_REST1_RL_preproc", "tfMRI_WM_RL_preproc", "T1w_preproc"} {
		require.NoError(t, os.MkdirAll(filepath.Join(resources, d), 0o755))
	}

	for _, spec := range getTestEnvNames() {
		t.Setenv(spec, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvXnatServer, "db.example.org")
	t.Setenv(config.EnvControl, "/home/hcp/pbs_control")
	t.Setenv(config.EnvPutServerList, "http://put1.example.org")
	t.Setenv(config.EnvJobsHome, jobsHome)
	t.Setenv(config.EnvBuildDir, c.buildHome)
	t.Setenv(config.EnvArchiveRoot, archiveRoot)
	t.Setenv("ICAFIXSUBMIT_QSUB", filepath.Join(c.bin, "qsub"))
	t.Setenv("ICAFIXSUBMIT_QSTAT", filepath.Join(c.bin, "qstat"))
	t.Setenv("ICAFIXSUBMIT_QSTAT_QPS", "0")
	t.Setenv("ICAFIXSUBMIT_REGISTRY_DIR", c.registry)
	t.Setenv("ICAFIXSUBMIT_HISTORY_PATH", c.history)
	t.Setenv("ICAFIXSUBMIT_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("ICAFIXSUBMIT_USERNAME", "hcpuser")
	t.Setenv("ICAFIXSUBMIT_PASSWORD", "secret")
	return c
}

func getTestEnvNames() []string {
	return []string{
		config.EnvXnatServer, config.EnvControl, config.EnvPutServerList,
		config.EnvJobsHome, config.EnvBuildDir, config.EnvArchiveRoot,
		"ICAFIXSUBMIT_TIMEOUT", "ICAFIXSUBMIT_LOG_LEVEL",
		"ICAFIXSUBMIT_HISTORY_ENABLED", "ICAFIXSUBMIT_HISTORY_URL",
	}
}

func (c *cluster) qsubLog(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(c.bin, "qsub.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel, logJSON, outFormat, submitPutServer = "", "", false, formatText, ""
	historyOutcome, historyLimit = "", 20

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitCommand_EndToEnd(t *testing.T) {
	c := newCluster(t)

	out, err := execute(t, "submit", "HCP_1200", "100307", "3T", "True", "PUT_DATA", "48", "32", "MultiRunIcaFix")
	require.NoError(t, err)

	assert.Contains(t, out, "Submitting MultiRunIcaFixProcessing jobs for:")
	assert.Contains(t, out, "submitted jobs: [1.pbs 2.pbs 3.pbs]")
	assert.Contains(t, out, "marked --user=hcpuser --password=secret --server=put1.example.org --project=HCP_1200 --subject=100307 --classifier=3T --resource=RunningStatus --queued")

	log := c.qsubLog(t)
	require.Len(t, log, 3)
	assert.True(t, strings.HasSuffix(log[0], "GET_DATA_job.sh"))
	assert.True(t, strings.HasPrefix(log[1], "-W depend=afterok:1.pbs "))
	assert.True(t, strings.HasPrefix(log[2], "-W depend=afterok:2.pbs "))

	recs, err := registry.NewStore(c.registry).List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, registry.StateQueued, recs[0].State)
	assert.Equal(t, []string{"1.pbs", "2.pbs", "3.pbs"}, recs[0].JobIDs())

	process, err := os.ReadFile(recs[0].Jobs[1].Script)
	require.NoError(t, err)
	assert.Contains(t, string(process), "--icafixbolds=fMRI_ALL_CONCAT:rfMRI_REST1_RL,tfMRI_WM_RL")
	assert.Contains(t, string(process), "--reapplyfixbolds=fMRI_REST_CONCATrfMRI_REST1_RL")

	// Jobs from the first submission are still queued.
	out, err = execute(t, "submit", "HCP_1200", "100307", "3T", "false", "PUT_DATA", "48", "32", "MultiRunIcaFix")
	require.NoError(t, err)
	assert.Contains(t, out, "NOT SUBMITTING JOBS FOR")
	assert.Contains(t, out, "JOBS ARE ALREADY QUEUED OR RUNNING")
	assert.NotContains(t, out, "Submitting")
	assert.Len(t, c.qsubLog(t), 3)

	out, err = execute(t, "status", "HCP_1200", "100307", "3T", "--format", "jsonl")
	require.NoError(t, err)
	var record output.Record
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &record))
	assert.Equal(t, output.TypeStatus, record.Type)
	var status output.StatusRecord
	require.NoError(t, json.Unmarshal(record.Data, &status))
	assert.True(t, status.QueuedOrRunning)
	assert.Equal(t, 1, status.Records)
}

func TestSubmitCommand_BlockedBeforeScriptSettings(t *testing.T) {
	c := newCluster(t)

	_, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "GET_DATA", "4", "8", "x")
	require.NoError(t, err)

	// Settings only script writing uses are gone; the guard still answers.
	t.Setenv(config.EnvControl, "")
	t.Setenv(config.EnvPutServerList, "")
	t.Setenv("ICAFIXSUBMIT_USERNAME", "")
	t.Setenv("ICAFIXSUBMIT_PASSWORD", "")

	out, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "GET_DATA", "4", "8", "x")
	require.NoError(t, err)
	assert.Contains(t, out, "NOT SUBMITTING JOBS FOR")
	assert.Contains(t, out, "JOBS ARE ALREADY QUEUED OR RUNNING")
	assert.Len(t, c.qsubLog(t), 1)
}

func TestCheckedGuard(t *testing.T) {
	info := subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"}
	d, err := checkedGuard{decision: runstatus.Decision{Blocked: false}}.Check(context.Background(), info)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Equal(t, info, d.Subject)
}

func TestSubmitCommand_PrepareScriptsOnly(t *testing.T) {
	c := newCluster(t)

	out, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "PREPARE_SCRIPTS", "4", "8", "MultiRunIcaFix", "--format", "jsonl")
	require.NoError(t, err)
	assert.Empty(t, c.qsubLog(t))

	var record output.Record
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &record))
	assert.Equal(t, output.TypeSubmission, record.Type)

	var sub output.SubmissionRecord
	require.NoError(t, json.Unmarshal(record.Data, &sub))
	assert.Len(t, sub.Scripts, 3)
	assert.Empty(t, sub.Jobs)
	assert.False(t, sub.Marked)
	assert.Empty(t, sub.RegistryID)
	for _, p := range sub.Scripts {
		assert.FileExists(t, p)
	}
}

func TestSubmitCommand_Failures(t *testing.T) {
	t.Run("unknown stage", func(t *testing.T) {
		newCluster(t)
		_, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "CLEAN_DATA", "4", "8", "x")
		var ee *ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)
	})

	t.Run("missing control folder", func(t *testing.T) {
		newCluster(t)
		t.Setenv(config.EnvControl, "")
		_, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "GET_DATA", "4", "8", "x")
		var ee *ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)
		assert.Contains(t, err.Error(), config.EnvControl)
	})

	t.Run("unknown session", func(t *testing.T) {
		c := newCluster(t)
		_, err := execute(t, "submit", "HCP_1200", "999999", "3T", "false", "GET_DATA", "4", "8", "x")
		var ee *ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, foundry.ExitFileNotFound, ee.Code)
		assert.Empty(t, c.qsubLog(t))
	})

	t.Run("qsub failure", func(t *testing.T) {
		c := newCluster(t)
		writeExecutable(t, filepath.Join(c.bin, "qsub"), "#!/bin/sh\necho 'qsub: cannot connect to server' >&2\nexit 1\n")
		_, err := execute(t, "submit", "HCP_1200", "100307", "3T", "false", "GET_DATA", "4", "8", "x")
		var ee *ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, foundry.ExitExternalServiceUnavailable, ee.Code)
	})
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-10-01")

	newCluster(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "icafixsubmit 1.2.3 (commit abc123, built 2026-10-01)\n", out)
}
