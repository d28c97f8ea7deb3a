package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/memory"
	"github.com/roach88/realm/internal/core/sqlite"
	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/realm"
	"github.com/roach88/realm/internal/schema"
)

// errScenarioFail is the error a fail operation returns from its closure.
var errScenarioFail = errors.New("scenario failure")

// Harness executes one scenario run.
type Harness struct {
	scenario *Scenario
	engine   core.Engine
	path     string
	schema   ir.Schema
	ids      *realm.FixedGenerator
	logger   *slog.Logger
	seq      int64

	realm *realm.Realm
}

// Run executes a scenario on a fresh database and returns the result.
// The returned error reports problems running the scenario at all; failed
// expectations and assertions are recorded in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	s, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		schema:   s,
		ids:      realm.NewFixedGenerator(scenario.IDs...),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	switch scenario.Engine {
	case "sqlite":
		dir, err := os.MkdirTemp("", "realm-scenario-")
		if err != nil {
			return nil, fmt.Errorf("failed to create scenario directory: %w", err)
		}
		defer os.RemoveAll(dir)
		h.engine = sqlite.New()
		h.path = filepath.Join(dir, scenario.Name+".realm")
	default:
		h.engine = memory.New()
		h.path = scenario.Name
	}

	h.realm, err = h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open realm: %w", err)
	}
	defer h.realm.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	inspector, err := h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open inspection realm: %w", err)
	}
	defer inspector.Close()

	actx := &AssertionContext{Realm: h.realm, Inspector: inspector}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) (*realm.Realm, error) {
	return realm.Open(ctx, h.path,
		realm.WithEngine(h.engine),
		realm.WithSchema(h.schema),
		realm.WithLogger(h.logger),
		realm.WithIDGenerator(h.ids),
	)
}

// executeStep runs one step, records its trace event and checks its
// expectation. Only failures that make the run meaningless are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	h.seq++
	event := TraceEvent{Seq: h.seq}

	var (
		ids     []string
		stepErr error
	)
	switch {
	case step.Write != nil:
		event.Op = OpWrite
		ids, stepErr = h.write(ctx, step.Write)
		event.Result = stringList(ids)
	case step.Concurrent != nil:
		event.Op = OpConcurrent
		var committed int
		committed, stepErr = h.concurrent(ctx, step.Concurrent)
		event.Result = int64(committed)
	case step.Query != nil:
		event.Op = OpQuery
		ids, stepErr = h.query(step.Query)
		event.Result = stringList(ids)
	case step.Refresh:
		event.Op = OpRefresh
		_, stepErr = h.realm.Refresh()
	case step.Close:
		event.Op = OpClose
		if v, err := h.realm.Version(); err == nil {
			event.Version = v.Version
		}
		stepErr = h.realm.Close()
	}

	if stepErr != nil {
		event.Error = stepErr.Error()
	}
	if v, err := h.realm.Version(); err == nil {
		event.Version = v.Version
	}
	result.AddTrace(event)

	h.logger.Debug("scenario step", "step", index, "op", event.Op, "version", event.Version, "error", stepErr)
	for _, msg := range checkExpect(index, step.Expect, ids, stepErr, event.Version) {
		result.AddError(msg)
	}
	return nil
}

// write runs ops in one transaction and returns the ids of copied objects.
func (h *Harness) write(ctx context.Context, ops []Op) ([]string, error) {
	return realm.WriteResult(ctx, h.realm, func(m *realm.MutableRealm) ([]string, error) {
		var ids []string
		for i, op := range ops {
			id, err := applyOp(m, op)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			if id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	})
}

// concurrent runs one write per entry from separate goroutines and
// returns how many committed. Errors are reported sorted so the outcome
// does not depend on scheduling.
func (h *Harness) concurrent(ctx context.Context, writes [][]Op) (int, error) {
	errs := make([]error, len(writes))
	var g errgroup.Group
	for i, ops := range writes {
		g.Go(func() error {
			_, errs[i] = h.write(ctx, ops)
			return nil
		})
	}
	g.Wait()

	committed := 0
	var msgs []string
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		msgs = append(msgs, err.Error())
	}
	if len(msgs) == 0 {
		return committed, nil
	}
	sort.Strings(msgs)
	joined := make([]error, len(msgs))
	for i, m := range msgs {
		joined[i] = errors.New(m)
	}
	return committed, errors.Join(joined...)
}

func (h *Harness) query(q *QueryStep) ([]string, error) {
	res, err := h.realm.Query(q.Class, q.Predicate, q.Args...)
	if err != nil {
		return nil, err
	}
	objs, err := res.Find()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(objs))
	for i, o := range objs {
		ids[i] = o.ID
	}
	return ids, nil
}

// applyOp performs one operation and returns the id of a copied object.
func applyOp(m *realm.MutableRealm, op Op) (string, error) {
	switch {
	case op.Copy != nil:
		fields, err := ir.MapFromGo(op.Copy.Fields)
		if err != nil {
			return "", fmt.Errorf("copy %s: %w", op.Copy.Class, err)
		}
		obj := realm.NewObject(op.Copy.Class, fields)
		obj.ID = op.Copy.ID
		policy := realm.UpdatePolicyError
		if op.Copy.Policy == "all" {
			policy = realm.UpdatePolicyAll
		}
		stored, err := m.CopyToRealm(obj, policy)
		if err != nil {
			return "", err
		}
		return stored.ID, nil
	case op.Delete != nil:
		obj, ok, err := m.Find(op.Delete.Class, op.Delete.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("delete %s[%s]: %w", op.Delete.Class, op.Delete.ID, core.ErrNoSuchObject)
		}
		return "", m.Delete(obj)
	case op.DeleteClass != "":
		return "", m.DeleteClass(op.DeleteClass)
	case op.DeleteAll:
		return "", m.DeleteAll()
	case op.Cancel:
		return "", m.CancelWrite()
	case op.Fail != "":
		return "", fmt.Errorf("%w: %s", errScenarioFail, op.Fail)
	}
	return "", nil
}

func stringList(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
