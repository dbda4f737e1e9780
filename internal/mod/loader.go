package mod

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pulse/internal/events"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/reflectcache"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

var (
	unloaderType = reflect.TypeFor[Unloader]()
	statusType   = reflect.TypeFor[telemetry.StatusProvider]()
)

// Capabilities lists the optional interfaces a mod type implements.
type Capabilities struct {
	Unloader bool
	Status   bool
}

// Loader owns every mod container. LoadAll, LoadMod, Unload and UnloadAll
// are meant to be called from one goroutine; accessors are safe anywhere.
type Loader struct {
	host       Host
	bus        *events.Bus
	registrar  InjectionRegistrar
	classifier SideClassifier
	strict     bool

	log     *logger.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	clock   clock.Clock
	caps    *reflectcache.Cache[Capabilities]

	mu         sync.RWMutex
	containers map[string]*Container
	discovered []string
	order      []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRegistrar sets the injection registrar. Defaults to AcceptAll.
func WithRegistrar(r InjectionRegistrar) LoaderOption {
	return func(l *Loader) { l.registrar = r }
}

// WithClassifier sets the side classifier. Defaults to a BOTH-side host.
func WithClassifier(c SideClassifier) LoaderOption {
	return func(l *Loader) { l.classifier = c }
}

// WithStrictVersions fails dependents whose version constraint is not met.
// Otherwise the mismatch is only logged.
func WithStrictVersions(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// WithLogger sets the loader logger.
func WithLogger(log *logger.Logger) LoaderOption {
	return func(l *Loader) { l.log = log.Component("modloader") }
}

// WithMetrics publishes per-state mod gauges.
func WithMetrics(m *telemetry.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithTracer overrides the tracer used for load spans.
func WithTracer(t trace.Tracer) LoaderOption {
	return func(l *Loader) { l.tracer = t }
}

// WithClock sets the clock used to timestamp transitions.
func WithClock(c clock.Clock) LoaderOption {
	return func(l *Loader) { l.clock = c }
}

// WithCapabilityCache shares a capability cache between loaders.
func WithCapabilityCache(c *reflectcache.Cache[Capabilities]) LoaderOption {
	return func(l *Loader) { l.caps = c }
}

// NewLoader creates a loader bound to host. State events are published on
// the host bus when host is non-nil.
func NewLoader(host Host, opts ...LoaderOption) *Loader {
	l := &Loader{
		host:       host,
		registrar:  AcceptAll,
		classifier: PermissionClassifier{Current: SideBoth},
		tracer:     telemetry.Tracer(nil),
		clock:      clock.New(),
		containers: make(map[string]*Container),
	}
	if host != nil {
		l.bus = host.Events()
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.caps == nil {
		l.caps = reflectcache.MustNew[Capabilities](reflectcache.DefaultSize)
	}
	return l
}

// Add registers a discovered mod. Metadata that fails validation leaves the
// mod FAILED and returns the validation error; other mods are unaffected.
func (l *Loader) Add(meta Metadata, instance Mod) error {
	if instance == nil {
		return fmt.Errorf("mod '%s' has no instance", meta.ID)
	}
	c, err := l.register(meta, instance)
	if err != nil {
		return err
	}
	if err := meta.Validate(); err != nil {
		l.fail(context.Background(), c, err)
		return err
	}
	return nil
}

// Discover adds every manifest found in dir, building instances through the
// factory named by each manifest's entrypoint.
func (l *Loader) Discover(dir string, factories map[string]Factory) error {
	manifests, errs := DiscoverManifests(dir)
	for _, manifest := range manifests {
		meta := manifest.Metadata
		factory, ok := factories[meta.Entrypoint]
		if !ok {
			c, err := l.register(meta, nil)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			err = ErrUnknownEntrypoint{Mod: meta.ID, Entrypoint: meta.Entrypoint}
			l.fail(context.Background(), c, err)
			errs = append(errs, err)
			continue
		}
		if err := l.Add(meta, factory()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", manifest.Path, err))
		}
	}
	l.log.WithFields(map[string]any{
		"dir":       dir,
		"manifests": len(manifests),
		"errors":    len(errs),
	}).Info("discovered mods")
	return multierr.Combine(errs...)
}

// LoadAll resolves every DISCOVERED mod and initializes the loadable ones in
// dependency order. The returned error combines every per-mod failure;
// failures never stop unrelated mods from loading.
func (l *Loader) LoadAll(ctx context.Context) (LoadOrder, error) {
	return l.load(ctx, nil)
}

// LoadMod loads one DISCOVERED mod on demand, together with any DISCOVERED
// mods it depends on. Loading an already loaded mod is a no-op.
func (l *Loader) LoadMod(ctx context.Context, id string) error {
	c := l.GetMod(id)
	if c == nil {
		return ErrModNotFound{ID: id}
	}
	switch state := c.State(); {
	case state.Loaded():
		return nil
	case state != StateDiscovered:
		return fmt.Errorf("mod '%s' cannot be loaded from state %s", id, state)
	}

	_, err := l.load(ctx, l.dependencyClosure(id))
	return err
}

func (l *Loader) load(ctx context.Context, scope map[string]struct{}) (LoadOrder, error) {
	ctx, span := l.tracer.Start(ctx, "modloader.load")
	defer span.End()

	ordered, errs := l.resolve(ctx, scope)
	for _, id := range ordered {
		if err := l.initialize(ctx, l.GetMod(id)); err != nil {
			errs = append(errs, err)
		}
	}
	l.updateMetrics()

	err := multierr.Combine(errs...)
	counts := l.stateCounts()
	span.SetAttributes(
		attribute.Int("mods.active", counts[StateActive.String()]),
		attribute.Int("mods.failed", counts[StateFailed.String()]),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mod failures")
	}
	l.log.WithFields(map[string]any{
		"active":   counts[StateActive.String()],
		"failed":   counts[StateFailed.String()],
		"unloaded": counts[StateUnloaded.String()],
	}).Info("mod load pass complete")

	return l.LoadOrder(), err
}

// resolve validates dependencies of the DISCOVERED mods in scope (all of them
// when scope is nil), fails the ones that cannot load and returns the rest in
// topological order, already moved to DEPENDENCIES_RESOLVED.
func (l *Loader) resolve(ctx context.Context, scope map[string]struct{}) ([]string, []error) {
	l.mu.RLock()
	all := make(map[string]*Container, len(l.containers))
	for id, c := range l.containers {
		all[id] = c
	}
	var candidates []*Container
	for _, id := range l.discovered {
		c := l.containers[id]
		if c.State() != StateDiscovered {
			continue
		}
		if scope != nil {
			if _, ok := scope[id]; !ok {
				continue
			}
		}
		candidates = append(candidates, c)
	}
	l.mu.RUnlock()

	isCandidate := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		isCandidate[c.ID()] = struct{}{}
	}

	graph := NewDependencyGraph()
	failures := make(map[string]error)

	for _, c := range candidates {
		meta := c.Metadata()
		graph.AddNode(meta.ID)

		for _, dep := range meta.Dependencies {
			target, ok := all[dep.ID]
			if !ok || target.State() == StateUnloaded {
				if !dep.Optional {
					setFailure(failures, meta.ID, ErrMissingDependency{Mod: meta.ID, Dependency: dep.ID})
				}
				continue
			}
			if target.State() == StateFailed {
				if !dep.Optional {
					setFailure(failures, meta.ID, ErrDependencyFailed{Mod: meta.ID, Dependency: dep.ID, Cause: target.Err()})
				}
				continue
			}
			if vc := dep.Constraint(); !vc.Satisfies(target.Metadata().Version) {
				conflict := ErrVersionConflict{
					Mod:           meta.ID,
					Dependency:    dep.ID,
					Constraint:    vc.String(),
					ActualVersion: target.Metadata().Version,
				}
				if l.strict {
					setFailure(failures, meta.ID, conflict)
					continue
				}
				l.log.With("mod", meta.ID).Warn(conflict.Error())
			}
			if _, ok := isCandidate[dep.ID]; ok {
				graph.AddEdge(meta.ID, dep.ID)
			}
		}

		for _, other := range meta.Conflicts {
			if target, ok := all[other]; ok && target.State() != StateFailed && target.State() != StateUnloaded {
				setFailure(failures, meta.ID, ErrConflict{Mod: meta.ID, With: other})
			}
		}
	}

	var errs []error
	for _, cycle := range graph.Cycles() {
		cycleErr := ErrCircularDependency{Cycle: cycle}
		errs = append(errs, cycleErr)
		for _, member := range cycle {
			failures[member] = cycleErr
		}
	}
	for _, id := range sortedIDs(failures) {
		if _, isCycle := failures[id].(ErrCircularDependency); !isCycle {
			errs = append(errs, failures[id])
		}
	}

	// Propagate to transitive dependents, naming the nearest failed dependency.
	queue := sortedIDs(failures)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range graph.GetDependents(current) {
			if _, done := failures[dependent]; done {
				continue
			}
			err := ErrDependencyFailed{Mod: dependent, Dependency: current, Cause: failures[current]}
			failures[dependent] = err
			errs = append(errs, err)
			queue = append(queue, dependent)
		}
	}

	for _, id := range sortedIDs(failures) {
		l.fail(ctx, all[id], failures[id])
	}

	excluded := make(map[string]struct{}, len(failures))
	for id := range failures {
		excluded[id] = struct{}{}
	}
	ordered, err := graph.Without(excluded).TopologicalSort()
	if err != nil {
		// Every cycle member was excluded above, so this indicates a bug.
		return nil, append(errs, err)
	}

	for _, id := range ordered {
		_ = l.move(ctx, all[id], StateDependenciesResolved, nil)
	}
	return ordered, errs
}

// initialize runs the per-mod pipeline: dependency check, side check,
// injection registration, then the mod entry point.
func (l *Loader) initialize(ctx context.Context, c *Container) error {
	meta := c.Metadata()

	for _, dep := range meta.Dependencies {
		target := l.GetMod(dep.ID)
		if target != nil && target.State().Loaded() {
			continue
		}
		if dep.Optional {
			continue
		}
		var cause error = ErrMissingDependency{Mod: meta.ID, Dependency: dep.ID}
		if target != nil {
			cause = target.Err()
			if cause == nil {
				cause = fmt.Errorf("dependency is %s", target.State())
			}
		}
		err := ErrDependencyFailed{Mod: meta.ID, Dependency: dep.ID, Cause: cause}
		l.fail(ctx, c, err)
		return err
	}

	current, required := l.classifier.CurrentSide(), l.classifier.RequiredSide(meta)
	if !Applicable(current, required) {
		l.log.WithFields(map[string]any{
			"mod":      meta.ID,
			"side":     current.String(),
			"requires": required.String(),
		}).Info("skipping mod for this side")
		_ = l.move(ctx, c, StateUnloaded, nil)
		return nil
	}

	if err := l.applyInjections(ctx, meta); err != nil {
		l.fail(ctx, c, err)
		return err
	}
	if err := l.move(ctx, c, StateMixinsApplied, nil); err != nil {
		return err
	}

	initCtx, span := l.tracer.Start(ctx, "modloader.init", trace.WithAttributes(
		attribute.String("mod.id", meta.ID),
		attribute.String("mod.version", meta.Version),
	))
	err := pulseerrors.Guard(func() error {
		return c.Instance().Initialize(initCtx, l.host)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialize failed")
		span.End()
		initErr := ErrInitFailed{Mod: meta.ID, Err: err}
		l.fail(ctx, c, initErr)
		return initErr
	}
	span.End()

	if err := l.move(ctx, c, StateInitialized, nil); err != nil {
		return err
	}
	if err := l.move(ctx, c, StateActive, nil); err != nil {
		return err
	}

	l.mu.Lock()
	l.order = append(l.order, meta.ID)
	l.mu.Unlock()
	return nil
}

func (l *Loader) applyInjections(ctx context.Context, meta Metadata) error {
	if len(meta.Mixins) == 0 {
		return nil
	}

	var results []InjectionResult
	if err := pulseerrors.Guard(func() error {
		results = l.registrar.Register(ctx, meta.ID, meta.Mixins)
		return nil
	}); err != nil {
		return ErrInjectionFailed{Mod: meta.ID, Config: "*", Err: err}
	}

	var errs error
	for _, result := range results {
		if result.Err == nil {
			continue
		}
		injErr := ErrInjectionFailed{Mod: meta.ID, Config: result.Config, Err: result.Err}
		l.log.WithFields(map[string]any{
			"mod":    meta.ID,
			"config": result.Config,
		}).Error(result.Err, "injection config rejected")
		errs = multierr.Append(errs, injErr)
	}
	return errs
}

// Unload unloads one mod. It refuses while loaded mods still require it.
func (l *Loader) Unload(ctx context.Context, id string) error {
	c := l.GetMod(id)
	if c == nil {
		return ErrModNotFound{ID: id}
	}
	if c.State() == StateUnloaded {
		return nil
	}

	var dependents []string
	for _, other := range l.AllMods() {
		if !other.State().Loaded() {
			continue
		}
		for _, dep := range other.Metadata().Dependencies {
			if dep.ID == id && !dep.Optional {
				dependents = append(dependents, other.ID())
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return ErrHasDependents{Mod: id, Dependents: dependents}
	}

	err := l.unload(ctx, c)
	l.updateMetrics()
	return err
}

// UnloadAll unloads loaded mods in reverse load order, then marks every
// remaining mod UNLOADED. Unload errors are combined; all mods are visited.
func (l *Loader) UnloadAll(ctx context.Context) error {
	order := l.LoadOrder()
	var errs error
	for i := order.Len() - 1; i >= 0; i-- {
		if c := l.GetMod(order.At(i)); c != nil {
			errs = multierr.Append(errs, l.unload(ctx, c))
		}
	}
	for _, c := range l.AllMods() {
		if c.State() != StateUnloaded {
			errs = multierr.Append(errs, l.unload(ctx, c))
		}
	}
	l.updateMetrics()
	return errs
}

func (l *Loader) unload(ctx context.Context, c *Container) error {
	var err error
	if c.State().Loaded() {
		if l.Capabilities(c.Instance()).Unloader {
			err = pulseerrors.Guard(func() error {
				return c.Instance().(Unloader).Unload(ctx)
			})
		}
		if l.bus != nil {
			l.bus.UnsubscribeAll(c.ID())
		}
	}
	if c.State() != StateUnloaded {
		_ = l.move(ctx, c, StateUnloaded, nil)
	}
	if err != nil {
		l.log.With("mod", c.ID()).Error(err, "mod unload failed")
		return fmt.Errorf("unload mod '%s': %w", c.ID(), err)
	}
	return nil
}

// Capabilities reports which optional interfaces the mod implements. Results
// are memoised per concrete type.
func (l *Loader) Capabilities(m Mod) Capabilities {
	if m == nil {
		return Capabilities{}
	}
	return l.caps.Of(m, func(t reflect.Type) Capabilities {
		return Capabilities{
			Unloader: t.Implements(unloaderType),
			Status:   t.Implements(statusType),
		}
	})
}

// GetMod returns the container for id, or nil.
func (l *Loader) GetMod(id string) *Container {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.containers[id]
}

// IsModLoaded reports whether id is INITIALIZED or ACTIVE.
func (l *Loader) IsModLoaded(id string) bool {
	c := l.GetMod(id)
	return c != nil && c.State().Loaded()
}

// ModCount returns the number of known mods in any state.
func (l *Loader) ModCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.containers)
}

// AllMods returns every container in discovery order.
func (l *Loader) AllMods() []*Container {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Container, 0, len(l.discovered))
	for _, id := range l.discovered {
		out = append(out, l.containers[id])
	}
	return out
}

// LoadOrder returns the ids of successfully initialized mods in the order
// they were initialized.
func (l *Loader) LoadOrder() LoadOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return newLoadOrder(l.order)
}

// ModStatus describes one mod, including the mod's own status when it
// implements telemetry.StatusProvider.
func (l *Loader) ModStatus(id string) (map[string]any, error) {
	c := l.GetMod(id)
	if c == nil {
		return nil, ErrModNotFound{ID: id}
	}
	status := map[string]any{
		"id":      c.ID(),
		"version": c.Metadata().Version,
		"state":   c.State().String(),
	}
	if err := c.Err(); err != nil {
		status["error"] = err.Error()
	}
	if l.Capabilities(c.Instance()).Status {
		for key, value := range c.Instance().(telemetry.StatusProvider).Status() {
			status["mod."+key] = value
		}
	}
	return status, nil
}

// Status implements telemetry.StatusProvider.
func (l *Loader) Status() map[string]any {
	status := map[string]any{
		"mods":       l.ModCount(),
		"load_order": l.LoadOrder().Len(),
	}
	for state, n := range l.stateCounts() {
		status["state."+state] = n
	}
	return status
}

// Summary implements telemetry.StatusProvider.
func (l *Loader) Summary() string {
	return telemetry.FormatSummary("modloader", l.Status())
}

func (l *Loader) register(meta Metadata, instance Mod) (*Container, error) {
	if meta.ID == "" {
		return nil, pulseerrors.NewValidationError("id", "mod id is required", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.containers[meta.ID]; exists {
		return nil, ErrDuplicateMod{ID: meta.ID}
	}
	c := newContainer(meta, instance)
	l.containers[meta.ID] = c
	l.discovered = append(l.discovered, meta.ID)
	return c, nil
}

// move transitions c and publishes a ModStateEvent.
func (l *Loader) move(ctx context.Context, c *Container, to State, cause error) error {
	from, err := c.transition(to, cause, l.clock.Now())
	if err != nil {
		l.log.With("mod", c.ID()).Warn(err.Error())
		return err
	}
	if l.log.DebugEnabled() {
		l.log.WithFields(map[string]any{
			"mod":  c.ID(),
			"from": from.String(),
			"to":   to.String(),
		}).Debug("mod state changed")
	}
	if l.bus != nil {
		l.bus.Publish(ctx, events.NewModStateEvent(c.ID(), from.String(), to.String(), cause))
	}
	return nil
}

func (l *Loader) fail(ctx context.Context, c *Container, cause error) {
	if c == nil {
		return
	}
	l.log.WithFields(map[string]any{
		"mod":   c.ID(),
		"state": c.State().String(),
	}).Error(cause, "mod failed")
	_ = l.move(ctx, c, StateFailed, cause)
}

// dependencyClosure returns id plus every DISCOVERED mod it transitively
// depends on.
func (l *Loader) dependencyClosure(id string) map[string]struct{} {
	scope := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		current := l.GetMod(queue[0])
		queue = queue[1:]
		if current == nil {
			continue
		}
		for _, dep := range current.Metadata().Dependencies {
			if _, seen := scope[dep.ID]; seen {
				continue
			}
			if target := l.GetMod(dep.ID); target != nil && target.State() == StateDiscovered {
				scope[dep.ID] = struct{}{}
				queue = append(queue, dep.ID)
			}
		}
	}
	return scope
}

func (l *Loader) stateCounts() map[string]int {
	counts := make(map[string]int)
	for _, c := range l.AllMods() {
		counts[c.State().String()]++
	}
	return counts
}

func (l *Loader) updateMetrics() {
	l.metrics.SetModStates(l.stateCounts())
}

func setFailure(failures map[string]error, id string, err error) {
	if _, exists := failures[id]; !exists {
		failures[id] = err
	}
}

func sortedIDs(failures map[string]error) []string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsDependencyError reports whether err stems from dependency resolution
// rather than from a mod's own code.
func IsDependencyError(err error) bool {
	var (
		cycle   ErrCircularDependency
		missing ErrMissingDependency
		failed  ErrDependencyFailed
		version ErrVersionConflict
		clash   ErrConflict
	)
	return errors.As(err, &cycle) || errors.As(err, &missing) || errors.As(err, &failed) ||
		errors.As(err, &version) || errors.As(err, &clash)
}
