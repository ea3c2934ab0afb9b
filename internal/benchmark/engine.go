// Package benchmark measures latency across candidate servers and puts the
// account's assignments back the way they were.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/google/uuid"

	"labvpn/internal/model"
	"labvpn/internal/probe"
	"labvpn/internal/profile"
	"labvpn/internal/store"
)

// ErrRestoreFailed wraps the failures of switching back to the recorded
// assignments. The snapshot is kept so the restore can be retried.
var ErrRestoreFailed = errors.New("restoring assignments failed")

// Catalog lists candidate servers.
type Catalog interface {
	Fetch(ctx context.Context, scopes []model.Scope, location string) (map[int]model.VpnServer, error)
}

// Registry reads current assignments.
type Registry interface {
	Fetch(ctx context.Context) (map[int]model.AssignedConnection, error)
}

// Switcher binds the account to a server.
type Switcher interface {
	Switch(ctx context.Context, serverID int) (model.AssignedConnection, error)
}

// Profiles downloads a server's profile, switching to it first.
type Profiles interface {
	Download(ctx context.Context, serverID int, opts profile.Options) (string, error)
}

// SnapshotStore persists the pre-run assignments until they are restored.
type SnapshotStore interface {
	Load() (*store.Snapshot, error)
	Save(snap *store.Snapshot) error
	Remove() error
}

// Config tunes a benchmark run.
type Config struct {
	ProbeCount int
	WorkDir    string
	TCP        bool
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Catalog   Catalog
	Registry  Registry
	Switcher  Switcher
	Profiles  Profiles
	Prober    probe.Prober
	Snapshots SnapshotStore
	Logger    model.Logger
}

// Options selects the candidates of a run.
type Options struct {
	Scopes   []model.Scope
	Location string
	// OnlyAccessible limits the run to servers currently bound to the account.
	OnlyAccessible bool
	// RunID labels the snapshot. Empty means a new random id.
	RunID string
	// OnProgress is called before each candidate is measured.
	OnProgress func(i, n int, server model.VpnServer)
}

// Engine runs benchmarks one candidate at a time.
type Engine struct {
	cfg  Config
	deps Deps
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = 2
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Run measures every candidate and returns the results sorted by latency,
// unreachable servers last. Whether it completes or ctx is cancelled, the
// assignments recorded before probing are switched back afterwards; the
// returned error joins the cancellation cause and any restoration failures,
// and the partial results are still returned.
func (e *Engine) Run(ctx context.Context, opts Options) ([]model.BenchmarkResult, error) {
	servers, err := e.deps.Catalog.Fetch(ctx, opts.Scopes, opts.Location)
	if err != nil {
		return nil, err
	}
	before, err := e.deps.Registry.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.VpnServer, 0, len(servers))
	for id, s := range servers {
		if _, assigned := before[id]; opts.OnlyAccessible && !assigned {
			continue
		}
		candidates = append(candidates, s)
	}
	slices.SortFunc(candidates, func(a, b model.VpnServer) int { return a.ID - b.ID })

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	snap := store.NewSnapshot(runID, before)
	if e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.Save(snap); err != nil {
			return nil, fmt.Errorf("save assignment snapshot: %w", err)
		}
	}
	e.deps.Logger.Infof("benchmark %s: %d candidates, %d assignments recorded", snap.RunID, len(candidates), len(snap.Assignments))

	results := make([]model.BenchmarkResult, 0, len(candidates))
	for i, s := range candidates {
		if ctx.Err() != nil {
			break
		}
		if opts.OnProgress != nil {
			opts.OnProgress(i, len(candidates), s)
		}
		_, wasAssigned := before[s.ID]
		res := e.measure(ctx, s, wasAssigned)
		if ctx.Err() != nil {
			break
		}
		results = append(results, res)
	}

	restoreErr := e.restore(context.WithoutCancel(ctx), snap)
	SortResults(results)
	return results, errors.Join(ctx.Err(), restoreErr)
}

// Restore switches back to the assignments of a snapshot left by an
// interrupted run. It returns the snapshot, or nil when there was none.
func (e *Engine) Restore(ctx context.Context) (*store.Snapshot, error) {
	if e.deps.Snapshots == nil {
		return nil, nil
	}
	snap, err := e.deps.Snapshots.Load()
	if err != nil {
		return nil, fmt.Errorf("load assignment snapshot: %w", err)
	}
	if snap == nil {
		return nil, nil
	}
	return snap, e.restore(ctx, snap)
}

func (e *Engine) restore(ctx context.Context, snap *store.Snapshot) error {
	var errs []error
	for _, a := range snap.Assignments {
		if _, err := e.deps.Switcher.Switch(ctx, a.ServerID); err != nil {
			errs = append(errs, fmt.Errorf("restore %s server %d: %w", a.Category, a.ServerID, err))
			continue
		}
		e.deps.Logger.Debugf("benchmark %s: restored %s server %d", snap.RunID, a.Category, a.ServerID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, errors.Join(errs...))
	}
	if e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.Remove(); err != nil {
			e.deps.Logger.Warnf("benchmark: remove assignment snapshot: %v", err)
		}
	}
	return nil
}

// measure never fails: any problem marks the server unreachable.
func (e *Engine) measure(ctx context.Context, s model.VpnServer, wasAssigned bool) model.BenchmarkResult {
	res := model.BenchmarkResult{Server: s, WasAssigned: wasAssigned}

	path, err := e.deps.Profiles.Download(ctx, s.ID, profile.Options{Dir: e.cfg.WorkDir, TCP: e.cfg.TCP})
	if err != nil {
		e.deps.Logger.Warnf("benchmark: server %d (%s): %v", s.ID, s.Name, err)
		return res
	}
	defer os.Remove(path)

	host, err := profile.RemoteHostFile(path)
	if err != nil {
		e.deps.Logger.Warnf("benchmark: server %d (%s): %v", s.ID, s.Name, err)
		return res
	}
	res.Hostname = host

	pr, err := e.deps.Prober.Probe(ctx, host, e.cfg.ProbeCount)
	if err != nil {
		e.deps.Logger.Warnf("benchmark: server %d (%s): %v", s.ID, s.Name, err)
		return res
	}
	latency := pr.AvgMs
	res.LatencyMs = &latency
	return res
}

// SortResults orders results by ascending latency with unreachable servers
// last; ties are broken by server id.
func SortResults(results []model.BenchmarkResult) {
	slices.SortStableFunc(results, func(a, b model.BenchmarkResult) int {
		switch {
		case a.Reachable() && !b.Reachable():
			return -1
		case !a.Reachable() && b.Reachable():
			return 1
		case a.Reachable() && b.Reachable() && *a.LatencyMs != *b.LatencyMs:
			if *a.LatencyMs < *b.LatencyMs {
				return -1
			}
			return 1
		}
		return a.Server.ID - b.Server.ID
	})
}
