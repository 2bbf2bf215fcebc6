package policyfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/repositories"
	"github.com/arbiterhq/arbiter/services"
	"github.com/arbiterhq/arbiter/services/evaluator"
)

// snapshot is the on-disk shape of a governance snapshot file: the full set
// of published policies plus the model pools they may route to.
type snapshot struct {
	Policies []models.Policy    `yaml:"policies"`
	Pools    []models.ModelPool `yaml:"pools"`
}

// Repository serves policies and model pools from a YAML snapshot file.
// The whole snapshot is swapped atomically on reload; a snapshot that fails
// validation is rejected and the last good one stays in service.
type Repository struct {
	mu       sync.RWMutex
	path     string
	policies map[string]*models.Policy
	pools    map[string]*models.ModelPool
	loadedAt time.Time
	logger   *zap.Logger
}

// New loads the snapshot at path and returns a repository backed by it.
// The initial load must succeed; there is no last-good snapshot to fall
// back to yet.
func New(path string, logger *zap.Logger) (*Repository, error) {
	r := &Repository{
		path:   path,
		logger: logger,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the snapshot file. On any parse or validation failure the
// previously loaded snapshot remains in service and the error is returned.
func (r *Repository) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", r.path, err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing snapshot %s: %w", r.path, err)
	}

	policies, pools, err := buildSnapshot(&snap)
	if err != nil {
		return err
	}

	r.mu.Lock()
	// Compiled ladders are cached per (policy_id, version) downstream, so an
	// edited policy only takes effect under a new version. A same-version
	// edit would silently evaluate the old ladder; reject it instead.
	for id, pol := range policies {
		if prev, ok := r.policies[id]; ok && prev.Version == pol.Version && !reflect.DeepEqual(prev, pol) {
			r.mu.Unlock()
			return services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("policy %q changed without a version bump (version %d)", id, pol.Version), nil)
		}
	}
	r.policies = policies
	r.pools = pools
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Info("policy snapshot loaded",
		zap.String("path", r.path),
		zap.Int("policies", len(policies)),
		zap.Int("pools", len(pools)))
	return nil
}

// buildSnapshot validates a parsed snapshot and indexes it by ID.
func buildSnapshot(snap *snapshot) (map[string]*models.Policy, map[string]*models.ModelPool, error) {
	pools := make(map[string]*models.ModelPool, len(snap.Pools))
	poolIDs := make(map[string]bool, len(snap.Pools))
	for i := range snap.Pools {
		p := &snap.Pools[i]
		if p.ID == "" {
			return nil, nil, services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("pool at position %d has no pool_id", i), nil)
		}
		if _, dup := pools[p.ID]; dup {
			return nil, nil, services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("duplicate pool_id %q", p.ID), nil)
		}
		for j := range p.Targets {
			p.Targets[j].PoolID = p.ID
		}
		pools[p.ID] = p
		poolIDs[p.ID] = true
	}

	policies := make(map[string]*models.Policy, len(snap.Policies))
	for i := range snap.Policies {
		pol := &snap.Policies[i]
		if err := evaluator.ValidatePolicy(pol, poolIDs); err != nil {
			return nil, nil, fmt.Errorf("policy %q: %w", pol.ID, err)
		}
		if _, dup := policies[pol.ID]; dup {
			return nil, nil, services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("duplicate policy_id %q", pol.ID), nil)
		}
		policies[pol.ID] = pol
	}

	return policies, pools, nil
}

// LoadedAt returns when the current snapshot was loaded.
func (r *Repository) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Policies returns the repository's policy view.
func (r *Repository) Policies() repositories.PolicyRepository {
	return policyView{repo: r}
}

// Pools returns the repository's model pool view.
func (r *Repository) Pools() repositories.PoolRepository {
	return poolView{repo: r}
}

// policyView adapts the snapshot to the PolicyRepository interface. Both
// views exist because the policy and pool interfaces share method names.
type policyView struct {
	repo *Repository
}

func (v policyView) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	v.repo.mu.RLock()
	defer v.repo.mu.RUnlock()
	p, ok := v.repo.policies[id]
	if !ok {
		return nil, services.ErrPolicyNotFound
	}
	return p, nil
}

func (v policyView) List(ctx context.Context) ([]*models.Policy, error) {
	v.repo.mu.RLock()
	defer v.repo.mu.RUnlock()
	out := make([]*models.Policy, 0, len(v.repo.policies))
	for _, p := range v.repo.policies {
		out = append(out, p)
	}
	return out, nil
}

type poolView struct {
	repo *Repository
}

func (v poolView) GetByID(ctx context.Context, id string) (*models.ModelPool, error) {
	v.repo.mu.RLock()
	defer v.repo.mu.RUnlock()
	p, ok := v.repo.pools[id]
	if !ok {
		return nil, services.ErrPoolNotFound
	}
	return p, nil
}

func (v poolView) List(ctx context.Context) ([]*models.ModelPool, error) {
	v.repo.mu.RLock()
	defer v.repo.mu.RUnlock()
	out := make([]*models.ModelPool, 0, len(v.repo.pools))
	for _, p := range v.repo.pools {
		out = append(out, p)
	}
	return out, nil
}

// Watch blocks watching the snapshot file for changes until ctx is done,
// reloading after each change. Editors often replace files via rename, so
// the watch is placed on the parent directory and events are filtered to
// the snapshot's name. A failed reload is logged and the last good snapshot
// stays in service.
func (r *Repository) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating snapshot watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	r.logger.Info("watching policy snapshot", zap.String("path", r.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Stop()
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("snapshot reload rejected, keeping previous snapshot",
					zap.String("path", r.path),
					zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("snapshot watcher error", zap.Error(err))
		}
	}
}

func (r *Repository) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}
