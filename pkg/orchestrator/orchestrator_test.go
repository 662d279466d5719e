package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"testbot/pkg/executor/runner"
	"testbot/pkg/models"
	"testbot/pkg/notify"
	"testbot/pkg/storage"
)

const testRepo = "https://github.com/InfiniTensor/InfiniCore.git"

// fakeShell fails every command containing one of the failing substrings and
// creates the clone directory on a successful clone.
type fakeShell struct {
	failing []string
	lines   []string
}

func (f *fakeShell) Run(ctx context.Context, cmd runner.Command) runner.Result {
	f.lines = append(f.lines, cmd.Line)
	for _, s := range f.failing {
		if strings.Contains(cmd.Line, s) {
			return runner.Result{ExitCode: 1, Stdout: "failed: " + cmd.Line, Stderr: "boom"}
		}
	}
	if strings.HasPrefix(cmd.Line, "git clone ") {
		fields := strings.Fields(cmd.Line)
		_ = os.MkdirAll(filepath.Join(cmd.Dir, fields[len(fields)-1]), 0o755)
	}
	return runner.Result{Stdout: "ok"}
}

func (f *fakeShell) count(substr string) int {
	n := 0
	for _, l := range f.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// recordingNotifier keeps every delivered metadata.
type recordingNotifier struct {
	calls []models.RunMetadata
	err   error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(ctx context.Context, meta models.RunMetadata) error {
	r.calls = append(r.calls, meta)
	return r.err
}

type recordingRecorder struct {
	runs []*models.RunRecord
	err  error
}

func (r *recordingRecorder) RecordRun(ctx context.Context, run *models.RunRecord) error {
	r.runs = append(r.runs, run)
	return r.err
}

type fixture struct {
	shell    *fakeShell
	notifier *recordingNotifier
	recorder *recordingRecorder
	deps     Deps
	workDir  string
}

func newFixture(t *testing.T, failing ...string) *fixture {
	t.Helper()
	f := &fixture{
		shell:    &fakeShell{failing: failing},
		notifier: &recordingNotifier{},
		recorder: &recordingRecorder{},
		workDir:  t.TempDir(),
	}
	f.deps = Deps{
		Exec:      f.shell,
		WorkDir:   f.workDir,
		GOOS:      "linux",
		Sleep:     func(time.Duration) {},
		Notifier:  f.notifier,
		Recorders: []storage.RunRecorder{f.recorder},
		Host:      func(context.Context) models.HostInfo { return models.HostInfo{Hostname: "ci-01"} },
		Logger:    zap.NewNop(),
	}
	return f
}

// cloned pretends the working copy already exists.
func (f *fixture) cloned(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.workDir, "InfiniCore"), 0o755))
}

func target(branches ...string) models.RunTarget {
	return models.RunTarget{
		ProjectName:     "InfiniCore",
		EnvironmentName: "nvidia",
		RepositoryURL:   testRepo,
		Branches:        branches,
		VariantFlags:    "--nv-gpu=y",
	}
}

func newOrchestrator(t *testing.T, f *fixture, tgt models.RunTarget) *Orchestrator {
	t.Helper()
	o, err := New(tgt, f.deps)
	require.NoError(t, err)
	return o
}

func TestRunAll_DefaultBranchAllPhasesSucceed(t *testing.T) {
	f := newFixture(t)
	f.cloned(t)
	o := newOrchestrator(t, f, target())

	require.NoError(t, o.RunAll(context.Background()))

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	assert.Len(t, meta.Outcomes, 6)
	for _, out := range meta.Outcomes {
		assert.True(t, out.Succeeded(), out.Label)
		assert.Equal(t, models.DefaultBranch, out.Branch)
	}
	assert.Equal(t, models.DefaultBranch, meta.Branch)
	assert.Equal(t, models.RunSuccess, meta.Status())
	assert.True(t, strings.HasPrefix(notify.Title(meta), "[testbot success]"))
	assert.Equal(t, "ci-01", meta.Host.Hostname)
	assert.Empty(t, meta.Error)

	assert.Equal(t, 0, f.shell.count("git "))
	assert.Equal(t, 0, o.RunContext().Log.Len())
	assert.Contains(t, f.shell.lines, "python scripts/python_test.py --nv-gpu=y")
}

func TestRunAll_ClonesMissingWorkingCopy(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(t, f, target())

	require.NoError(t, o.RunAll(context.Background()))

	assert.Equal(t, 1, f.shell.count("git clone "+testRepo+" InfiniCore"))
	meta := f.notifier.calls[0]
	assert.Equal(t, "Task: Clone", meta.Outcomes[0].Label)
	assert.Len(t, meta.Outcomes, 7)
}

func TestRunAll_CloneFailureStillNotifies(t *testing.T) {
	f := newFixture(t, "git clone")
	o := newOrchestrator(t, f, target("main"))

	err := o.RunAll(context.Background())
	var syncErr *models.SyncFailed
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "clone", syncErr.Op)

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	require.Len(t, meta.Outcomes, 1)
	assert.Equal(t, "Task: Clone", meta.Outcomes[0].Label)
	assert.Equal(t, 5, meta.Outcomes[0].Trials)
	assert.Equal(t, models.RunFailed, meta.Status())
	assert.NotEmpty(t, meta.Error)
	assert.Equal(t, 0, f.shell.count("git fetch"))
}

func TestRunAll_UnusableWorkDirReportsFailure(t *testing.T) {
	f := newFixture(t)
	file := filepath.Join(f.workDir, "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	f.deps.WorkDir = filepath.Join(file, "work")
	o := newOrchestrator(t, f, target())

	err := o.RunAll(context.Background())
	var syncErr *models.SyncFailed
	require.True(t, errors.As(err, &syncErr))
	assert.Empty(t, f.shell.lines)

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	require.Len(t, meta.Outcomes, 1)
	assert.Equal(t, -1, meta.Outcomes[0].ExitCode)
	assert.Equal(t, models.RunFailed, meta.Status())
	assert.True(t, strings.HasPrefix(notify.Title(meta), "[testbot failed]"))

	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, models.RunFailed, f.recorder.runs[0].Status)
	assert.Equal(t, 0, o.RunContext().Log.Len())
}

func TestRunAll_FetchFailureSkipsSequence(t *testing.T) {
	f := newFixture(t, "git fetch")
	f.cloned(t)
	o := newOrchestrator(t, f, target("main"))

	err := o.RunAll(context.Background())
	var syncErr *models.SyncFailed
	require.True(t, errors.As(err, &syncErr))

	assert.Equal(t, 5, f.shell.count("git fetch origin main"))
	assert.Equal(t, 0, f.shell.count("install.sh"))

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	require.Len(t, meta.Outcomes, 1)
	assert.Equal(t, "Task: Fetch", meta.Outcomes[0].Label)
	assert.Equal(t, models.RunFailed, meta.Status())
	assert.True(t, strings.HasPrefix(notify.Title(meta), "[testbot failed]"))
	assert.Equal(t, 0, o.RunContext().Log.Len())
}

func TestRunAll_FirstBranchFailureStopsRun(t *testing.T) {
	f := newFixture(t, "python_test.py")
	f.cloned(t)
	o := newOrchestrator(t, f, target("a", "b"))

	err := o.RunAll(context.Background())
	var cmdErr *models.CommandFailed
	require.True(t, errors.As(err, &cmdErr))

	assert.Equal(t, 0, f.shell.count("origin b"))
	assert.Equal(t, 0, f.shell.count("gguf_test.py"))

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	assert.Equal(t, "a", meta.Branch)
	labels := make([]string, 0, len(meta.Outcomes))
	for _, out := range meta.Outcomes {
		labels = append(labels, out.Label)
		assert.Equal(t, "a", out.Branch)
	}
	assert.Equal(t, []string{
		"Task: Fetch",
		"Command: git reset --hard origin/a",
		"Task: Install",
		"Task: Python operator tests",
	}, labels)
	assert.Equal(t, models.RunFailed, meta.Status())
}

func TestRunAll_MultipleBranchesInOrder(t *testing.T) {
	f := newFixture(t)
	f.cloned(t)
	o := newOrchestrator(t, f, target("main", "dev"))

	require.NoError(t, o.RunAll(context.Background()))

	require.Len(t, f.notifier.calls, 1)
	meta := f.notifier.calls[0]
	assert.Equal(t, "dev", meta.Branch)
	assert.Len(t, meta.Outcomes, 16)
	assert.Equal(t, "main", meta.Outcomes[0].Branch)
	assert.Equal(t, "dev", meta.Outcomes[len(meta.Outcomes)-1].Branch)
}

func TestRunAll_NotifierErrorIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.cloned(t)
	f.notifier.err = errors.New("webhook down")
	o := newOrchestrator(t, f, target())

	require.NoError(t, o.RunAll(context.Background()))
	assert.Len(t, f.notifier.calls, 1)
	assert.Equal(t, 0, o.RunContext().Log.Len())
	assert.Len(t, f.recorder.runs, 1)
}

func TestRunAll_RecordsRun(t *testing.T) {
	f := newFixture(t, "gguf_test.py")
	f.cloned(t)
	failing := &recordingRecorder{err: errors.New("db down")}
	f.deps.Recorders = append(f.deps.Recorders, failing)
	o := newOrchestrator(t, f, target())

	err := o.RunAll(context.Background())
	require.Error(t, err)

	require.Len(t, f.recorder.runs, 1)
	rec := f.recorder.runs[0]
	assert.Equal(t, models.RunFailed, rec.Status)
	assert.Equal(t, "InfiniCore", rec.Project)
	assert.Len(t, rec.Outcomes, 3)
	assert.Equal(t, f.notifier.calls[0].RunID, rec.ID)
	assert.Len(t, failing.runs, 1)
}

func TestRunAll_EachRunNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.cloned(t)
	o := newOrchestrator(t, f, target())

	require.NoError(t, o.RunAll(context.Background()))
	require.NoError(t, o.RunAll(context.Background()))

	require.Len(t, f.notifier.calls, 2)
	assert.Len(t, f.notifier.calls[1].Outcomes, 6)
	assert.NotEqual(t, f.notifier.calls[0].RunID, f.notifier.calls[1].RunID)
}

func TestRunAll_ArtifactsWrittenToWorkingCopy(t *testing.T) {
	f := newFixture(t)
	f.cloned(t)
	o := newOrchestrator(t, f, target())

	require.NoError(t, o.RunAll(context.Background()))

	logs, err := filepath.Glob(filepath.Join(f.workDir, "InfiniCore", "*.log"))
	require.NoError(t, err)
	assert.Len(t, logs, 6)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	f := newFixture(t)
	f.deps.Notifier = nil

	cases := map[string]func(*models.RunTarget){
		"project":       func(tg *models.RunTarget) { tg.ProjectName = "" },
		"env_name":      func(tg *models.RunTarget) { tg.EnvironmentName = "" },
		"repo_url":      func(tg *models.RunTarget) { tg.RepositoryURL = "https://example.com/repo" },
		"branches":      func(tg *models.RunTarget) { tg.Branches = []string{"main", ""} },
		"notifier.type": func(tg *models.RunTarget) { tg.Notifier = &models.NotifierConfig{Type: "pager", URL: "http://x"} },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			tg := target()
			mutate(&tg)
			_, err := New(tg, f.deps)
			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, field, cfgErr.Field)
		})
	}
	assert.Empty(t, f.shell.lines)
}

func TestNew_BuildsNotifierFromTarget(t *testing.T) {
	f := newFixture(t)
	f.deps.Notifier = nil
	tg := target()
	tg.Notifier = &models.NotifierConfig{Type: "feishu", URL: "http://localhost/hook"}

	o, err := New(tg, f.deps)
	require.NoError(t, err)
	assert.Equal(t, notify.TypeFeishu, o.notifier.Name())
}
