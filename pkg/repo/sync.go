// Package repo keeps a local working copy of a target repository in sync
// with its upstream.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"testbot/pkg/executor"
	"testbot/pkg/logger"
	"testbot/pkg/models"
)

// SyncTrials is the attempt budget for clone, fetch and reset.
const SyncTrials = 5

// CommandRunner is the subset of executor.CommandRunner used for syncing.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, opts executor.RunOptions) (models.CommandOutcome, error)
}

// Sync owns the working copy of one repository.
type Sync struct {
	url        string
	parentDir  string
	projectDir string
	cmd        CommandRunner
	rc         *models.RunContext
	logger     *zap.Logger
}

// NewSync validates repoURL and places the working copy under
// rc.WorkingDirectory.
func NewSync(repoURL string, cmd CommandRunner, rc *models.RunContext) (*Sync, error) {
	name, err := models.ProjectDirName(repoURL)
	if err != nil {
		return nil, err
	}
	return &Sync{
		url:        repoURL,
		parentDir:  rc.WorkingDirectory,
		projectDir: filepath.Join(rc.WorkingDirectory, name),
		cmd:        cmd,
		rc:         rc,
		logger:     logger.ForComponent("repo").With(zap.String("repo", repoURL)),
	}, nil
}

// ProjectDir is the absolute path of the working copy.
func (s *Sync) ProjectDir() string {
	return s.projectDir
}

// EnsureCloned clones the repository unless the working copy already exists.
func (s *Sync) EnsureCloned(ctx context.Context) error {
	cmd := fmt.Sprintf("git clone %s %s", s.url, filepath.Base(s.projectDir))

	if _, err := os.Stat(s.projectDir); err == nil {
		s.logger.Debug("Working copy present", zap.String("dir", s.projectDir))
		return nil
	} else if !os.IsNotExist(err) {
		return s.cloneNotStarted(cmd, err)
	}

	if err := os.MkdirAll(s.parentDir, 0o755); err != nil {
		return s.cloneNotStarted(cmd, err)
	}

	s.logger.Info("Cloning repository", zap.String("dir", s.projectDir))
	if _, err := s.cmd.Run(ctx, s.parentDir, cmd, executor.RunOptions{
		MaxTrials:      SyncTrials,
		AbortOnFailure: true,
		Label:          "Clone",
	}); err != nil {
		return &models.SyncFailed{Op: "clone", Target: s.url, Err: err}
	}
	return nil
}

// cloneNotStarted logs a failed clone outcome for an error raised before git
// could run, using the exit code of a command that failed to start.
func (s *Sync) cloneNotStarted(cmd string, err error) error {
	s.logger.Error("Cannot prepare working copy", zap.String("dir", s.projectDir), zap.Error(err))
	outcome := models.NewCommandOutcome("Clone", cmd, -1, "", err.Error())
	outcome.Branch = s.rc.CurrentBranch
	s.rc.Log.Append(outcome)
	return &models.SyncFailed{Op: "clone", Target: s.url, Err: err}
}

// CheckoutBranch moves the working copy to exactly origin/<branch>. The
// current branch is only updated once both fetch and reset succeeded.
func (s *Sync) CheckoutBranch(ctx context.Context, branch string) error {
	log := s.logger.With(zap.String("branch", branch))
	log.Info("Checking out branch")

	if _, err := s.cmd.Run(ctx, s.projectDir, "git fetch origin "+branch, executor.RunOptions{
		MaxTrials:      SyncTrials,
		AbortOnFailure: true,
		Label:          "Fetch",
	}); err != nil {
		return &models.SyncFailed{Op: "checkout", Target: branch, Err: err}
	}

	if _, err := s.cmd.Run(ctx, s.projectDir, "git reset --hard origin/"+branch, executor.RunOptions{
		MaxTrials:      SyncTrials,
		AbortOnFailure: true,
	}); err != nil {
		return &models.SyncFailed{Op: "checkout", Target: branch, Err: err}
	}

	s.rc.CurrentBranch = branch
	log.Info("Branch checked out")
	return nil
}
