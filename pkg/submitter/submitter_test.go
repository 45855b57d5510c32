package submitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/runstatus"
	"github.com/ccfpipelines/icafixsubmit/pkg/script"
	"github.com/ccfpipelines/icafixsubmit/pkg/stage"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

type fakeArchive struct {
	dirs []string
	err  error
}

func (f *fakeArchive) AvailableFunctionalPreprocDirs(context.Context, subject.Info) ([]string, error) {
	return f.dirs, f.err
}

type submitCall struct {
	script    string
	dependsOn []string
}

type fakeScheduler struct {
	calls  []submitCall
	failAt int // 1-based call that fails; 0 never fails
}

func (f *fakeScheduler) Submit(_ context.Context, scriptPath string, dependsOn []string) (string, error) {
	f.calls = append(f.calls, submitCall{script: scriptPath, dependsOn: dependsOn})
	if f.failAt == len(f.calls) {
		return "", errors.New("qsub: cannot connect to server")
	}
	return fmt.Sprintf("%d.pbs", 100+len(f.calls)), nil
}

type fakeMarker struct {
	calls int
	err   error
}

func (f *fakeMarker) MarkQueued(context.Context) error {
	f.calls++
	return f.err
}

type fakeGuard struct {
	blocked bool
	err     error
	calls   int
}

func (f *fakeGuard) Check(_ context.Context, info subject.Info) (runstatus.Decision, error) {
	f.calls++
	if f.err != nil {
		return runstatus.Decision{}, f.err
	}
	d := runstatus.Decision{Subject: info, Blocked: f.blocked}
	if f.blocked {
		d.Reason = runstatus.ReasonQueuedOrRunning
	}
	return d, nil
}

type fixture struct {
	buildHome string
	archive   *fakeArchive
	scheduler *fakeScheduler
	marker    *fakeMarker
	guard     *fakeGuard
	store     *registry.Store
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		buildHome: t.TempDir(),
		archive: &fakeArchive{dirs: []string{
			"/archive/HCP_1200/arc001/100307_3T/RESOURCES/tfMRI_WM_RL_preproc",
			"/archive/HCP_1200/arc001/100307_3T/RESOURCES/rfMRI_REST1_RL_preproc",
		}},
		scheduler: &fakeScheduler{},
		marker:    &fakeMarker{},
		guard:     &fakeGuard{},
		store:     registry.NewStore(t.TempDir()),
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func testParams() params.Parameters {
	return params.Parameters{
		Username:             "hcpuser",
		Password:             "secret",
		Server:               "http://db.example.org",
		Subject:              subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"},
		WalltimeHours:        "48",
		MemoryGB:             "32",
		OutputResourceSuffix: "MultiRunIcaFix",
		PutServer:            "http://put1.example.org",
	}
}

func (f *fixture) submitter(t *testing.T) *Submitter {
	t.Helper()
	s, err := New(Config{
		Params:    testParams(),
		BuildHome: f.buildHome,
		Archive:   f.archive,
		Composer:  script.NewComposer(script.Environment{SetupScriptPath: "/setup.sh", ControlFolder: "/control"}),
		Scheduler: f.scheduler,
		Marker:    f.marker,
		Guard:     f.guard,
		Recorder:  f.store,
		Now:       func() time.Time { return f.now },
		NewID:     func() string { return "rec-1" },
	})
	require.NoError(t, err)
	return s
}

func TestSubmit_AllStages(t *testing.T) {
	f := newFixture(t)

	res, err := f.submitter(t).Submit(context.Background(), stage.PutData)
	require.NoError(t, err)

	wantDir := filepath.Join(f.buildHome, "HCP_1200", "MultiRunIcaFixProcessing.100307_3T.1772442000")
	assert.Equal(t, wantDir, res.WorkingDir)
	assert.Equal(t, []string{"rfMRI_REST1_RL", "tfMRI_WM_RL"}, res.Groups)
	assert.False(t, res.Skipped)
	assert.True(t, res.Marked)
	assert.Equal(t, 1, f.marker.calls)

	require.Len(t, f.scheduler.calls, 3)
	assert.Empty(t, f.scheduler.calls[0].dependsOn)
	assert.Equal(t, []string{"101.pbs"}, f.scheduler.calls[1].dependsOn)
	assert.Equal(t, []string{"102.pbs"}, f.scheduler.calls[2].dependsOn)
	assert.Equal(t, []string{"101.pbs", "102.pbs", "103.pbs"}, res.JobIDs())
	assert.Equal(t, stage.GetData, res.Jobs[0].Stage)
	assert.Equal(t, stage.PutData, res.Jobs[2].Stage)

	for _, js := range res.Scripts {
		info, err := os.Stat(js.Path)
		require.NoError(t, err)
		assert.Equal(t, script.ExecutableMode, info.Mode().Perm())
	}

	rec, err := f.store.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", res.RegistryID)
	assert.Equal(t, registry.StateQueued, rec.State)
	assert.Equal(t, "PUT_DATA", rec.Stage)
	assert.Equal(t, []string{"101.pbs", "102.pbs", "103.pbs"}, rec.JobIDs())
	assert.Equal(t, "http://put1.example.org", rec.PutServer)
}

func TestSubmit_StageSelectsJobs(t *testing.T) {
	tests := []struct {
		stage     stage.ProcessingStage
		wantJobs  int
		wantMarks int
	}{
		{stage.PrepareScripts, 0, 0},
		{stage.GetData, 1, 1},
		{stage.ProcessData, 2, 1},
		{stage.PutData, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			f := newFixture(t)
			res, err := f.submitter(t).Submit(context.Background(), tt.stage)
			require.NoError(t, err)

			assert.Len(t, res.Jobs, tt.wantJobs)
			assert.Equal(t, tt.wantMarks, f.marker.calls)
			assert.Equal(t, tt.wantMarks == 1, res.Marked)

			// All three scripts exist whatever the stage.
			require.Len(t, res.Scripts, 3)
			for _, js := range res.Scripts {
				assert.FileExists(t, js.Path)
			}
		})
	}
}

func TestSubmit_PrepareScriptsWritesNoRecord(t *testing.T) {
	f := newFixture(t)

	res, err := f.submitter(t).Submit(context.Background(), stage.PrepareScripts)
	require.NoError(t, err)
	assert.Empty(t, res.RegistryID)

	recs, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSubmit_BlockedDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.guard.blocked = true

	res, err := f.submitter(t).Submit(context.Background(), stage.PutData)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, runstatus.ReasonQueuedOrRunning, res.Reason)

	assert.Empty(t, f.scheduler.calls)
	assert.Zero(t, f.marker.calls)
	entries, err := os.ReadDir(f.buildHome)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_GuardErrorStops(t *testing.T) {
	f := newFixture(t)
	f.guard.err = errors.New("registry unreadable")

	_, err := f.submitter(t).Submit(context.Background(), stage.PutData)
	require.Error(t, err)
	assert.Empty(t, f.scheduler.calls)
}

func TestSubmit_MalformedPreprocDir(t *testing.T) {
	f := newFixture(t)
	f.archive.dirs = []string{"/archive/RESOURCES/rfMRI_REST1_RL"}

	_, err := f.submitter(t).Submit(context.Background(), stage.PutData)
	require.Error(t, err)
	assert.Empty(t, f.scheduler.calls)
}

func TestSubmit_SchedulerFailureReturnsPartial(t *testing.T) {
	f := newFixture(t)
	f.scheduler.failAt = 2

	res, err := f.submitter(t).Submit(context.Background(), stage.PutData)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit PROCESS_DATA job")
	require.NotNil(t, res)
	assert.Equal(t, []string{"101.pbs"}, res.JobIDs())
	assert.Zero(t, f.marker.calls)

	rec, err := f.store.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"101.pbs"}, rec.JobIDs())
}

func TestSubmit_MarkFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.marker.err = errors.New("exit status 1")

	res, err := f.submitter(t).Submit(context.Background(), stage.GetData)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Marked)
	assert.Equal(t, "rec-1", res.RegistryID)
}

func TestNew_Misconfigured(t *testing.T) {
	base := func() Config {
		return Config{
			Params:    testParams(),
			BuildHome: t.TempDir(),
			Archive:   &fakeArchive{},
			Composer:  script.NewComposer(script.Environment{}),
			Scheduler: &fakeScheduler{},
			Guard:     &fakeGuard{},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server", func(c *Config) { c.Params.Server = "" }},
		{"missing put server", func(c *Config) { c.Params.PutServer = "" }},
		{"missing build home", func(c *Config) { c.BuildHome = " " }},
		{"missing archive", func(c *Config) { c.Archive = nil }},
		{"missing scheduler", func(c *Config) { c.Scheduler = nil }},
		{"missing guard", func(c *Config) { c.Guard = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrMisconfigured)
		})
	}
}

func TestWorkingDir(t *testing.T) {
	info := subject.Info{Project: "P", Subject: "S", Classifier: "7T"}
	got := WorkingDir("/build", info, time.Unix(1700000000, 0))
	assert.Equal(t, "/build/P/MultiRunIcaFixProcessing.S_7T.1700000000", got)
}

func TestSelectors(t *testing.T) {
	servers := []string{"http://put1", " ", "http://put2"}

	got, err := FirstSelector{}.Select(servers)
	require.NoError(t, err)
	assert.Equal(t, "http://put1", got)

	got, err = RandomSelector{IntN: func(n int) int { return n - 1 }}.Select(servers)
	require.NoError(t, err)
	assert.Equal(t, "http://put2", got)

	got, err = RandomSelector{}.Select(servers)
	require.NoError(t, err)
	assert.Contains(t, []string{"http://put1", "http://put2"}, got)

	_, err = FirstSelector{}.Select(nil)
	assert.ErrorIs(t, err, ErrNoPutServers)
	_, err = RandomSelector{}.Select([]string{""})
	assert.ErrorIs(t, err, ErrNoPutServers)
}
