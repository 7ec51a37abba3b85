package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter/voxelgrid"
)

// Snapshot names a point set version held by a Session.
type Snapshot int

const (
	// Original is the set as loaded.
	Original Snapshot = iota
	// Current is the result of the stages applied so far.
	Current
	// Cleaned is the result of the last complete pipeline run.
	Cleaned
)

func (s Snapshot) String() string {
	switch s {
	case Original:
		return "ORIGINAL"
	case Current:
		return "CURRENT"
	case Cleaned:
		return "CLEANED"
	}
	return fmt.Sprintf("Snapshot(%d)", int(s))
}

var (
	errNothingToCommit = errors.New("no cleaned snapshot to commit")
	errSuperseded      = errors.New("superseded by a newer run")
)

// Session holds the snapshots of one loaded set and serializes updates.
// Snapshots are immutable and may be read while a run is in progress.
type Session struct {
	mu sync.Mutex

	original *cloud.PointSet
	cleaned  *cloud.PointSet
	history  *history
	opts     Options

	gen    uint64
	cancel context.CancelFunc
}

// NewSession starts a session on original with CURRENT equal to ORIGINAL.
func NewSession(original *cloud.PointSet, opts Options) *Session {
	s := &Session{
		original: original,
		history:  newHistory(maxHistoryDefault),
		opts:     opts,
	}
	s.history.push(original)
	return s
}

// Snapshot returns the named snapshot. CLEANED is nil until Clean succeeds.
func (s *Session) Snapshot(name Snapshot) *cloud.PointSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case Original:
		return s.original
	case Current:
		return s.history.latest()
	case Cleaned:
		return s.cleaned
	}
	return nil
}

// Options returns the options used for new runs.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetOptions replaces the options used for new runs.
func (s *Session) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// GSMode reports whether 3DGS mode is on.
func (s *Session) GSMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.GSMode
}

// SetGSMode switches 3DGS mode.
func (s *Session) SetGSMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.GSMode = on
}

// MaxHistory returns the number of undo steps kept.
func (s *Session) MaxHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.MaxHistory()
}

// SetMaxHistory sets the number of undo steps kept.
func (s *Session) SetMaxHistory(m int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.SetMaxHistory(m)
}

// UndoDepth returns the number of available undo steps.
func (s *Session) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.depth()
}

// begin cancels the in-flight run and registers a new one.
// Must be called with mu held.
func (s *Session) begin(ctx context.Context) (context.Context, uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return runCtx, s.gen
}

// finish reports whether the run gen is still the latest one.
// Must be called with mu held.
func (s *Session) finish(gen uint64) bool {
	if s.gen != gen {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// interrupt cancels the in-flight run without starting a new one.
// Must be called with mu held.
func (s *Session) interrupt() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Apply runs one stage on CURRENT and makes its output the new CURRENT.
// A newer Apply, Clean, Undo or Reset cancels the run. A failed or cancelled
// run leaves every snapshot unchanged.
func (s *Session) Apply(ctx context.Context, c StageConfig) (*StageResult, error) {
	s.mu.Lock()
	runCtx, gen := s.begin(ctx)
	in, opts := s.history.latest(), s.opts
	s.mu.Unlock()

	res, err := RunStage(runCtx, in, c, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finish(gen) {
		return nil, superseded(err, c, in.Len())
	}
	if err != nil {
		return nil, err
	}
	if res.Output != in {
		s.history.push(res.Output)
	}
	return res, nil
}

// Voxelize downsamples CURRENT. It is refused in 3DGS mode.
func (s *Session) Voxelize(ctx context.Context, p voxelgrid.Params) (*StageResult, error) {
	return s.Apply(ctx, StageConfig{Type: VoxelDownsample, Enabled: true, Voxel: &p})
}

// Clean runs stages from CURRENT and stores the output as CLEANED.
// CURRENT is not changed.
func (s *Session) Clean(ctx context.Context, stages []StageConfig) (*Result, error) {
	s.mu.Lock()
	runCtx, gen := s.begin(ctx)
	in, opts := s.history.latest(), s.opts
	s.mu.Unlock()

	res, err := Run(runCtx, in, stages, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finish(gen) {
		return nil, superseded(err, StageConfig{Type: "pipeline"}, in.Len())
	}
	if err != nil {
		return nil, err
	}
	s.cleaned = res.Output
	return res, nil
}

// Commit makes CLEANED the new CURRENT.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned == nil {
		return errNothingToCommit
	}
	if s.cleaned != s.history.latest() {
		s.history.push(s.cleaned)
	}
	return nil
}

// Orient replaces CURRENT with a copy whose positions are passed through o.
// ORIGINAL and CLEANED are not changed. The step can be undone.
func (s *Session) Orient(o cloud.Orientation) (*cloud.PointSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.history.latest().Orient(o)
	if err != nil {
		return nil, err
	}
	s.interrupt()
	s.history.push(out)
	return out, nil
}

// Undo restores the previous CURRENT. It returns false if there is none.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt()
	_, ok := s.history.undo()
	return ok
}

// Reset drops history and CLEANED and sets CURRENT back to ORIGINAL.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt()
	s.history.clear()
	s.history.push(s.original)
	s.cleaned = nil
}

func superseded(err error, c StageConfig, n int) error {
	var ce *CancellationError
	if errors.As(err, &ce) {
		return err
	}
	return &CancellationError{
		Stage:  c,
		Points: n,
		Err:    fmt.Errorf("%w: %w", context.Canceled, errSuperseded),
	}
}
