package invoker

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/pitabwire/restkit/model"
)

// variant is the shape of an operation from since onwards. A nil op marks
// the version the operation was removed in.
type variant struct {
	since model.ServiceVersion
	op    *model.OperationDescriptor
}

// Table holds the operation descriptors of one service, keyed by operation
// ID and by the version each variant was introduced in. It is safe for
// concurrent use after initial registration.
type Table struct {
	versions *model.VersionSet

	mu  sync.RWMutex
	ops map[string][]variant
}

// NewTable creates an empty table for a service's version set.
func NewTable(versions *model.VersionSet) *Table {
	return &Table{versions: versions, ops: make(map[string][]variant)}
}

// Versions returns the version set the table was created for.
func (t *Table) Versions() *model.VersionSet {
	return t.versions
}

// Register adds op as the variant introduced in since. Panics if the
// descriptor is invalid, since is not a member of the version set, or a
// variant for the same version is already registered, since each indicates
// a wiring mistake at startup.
func (t *Table) Register(op *model.OperationDescriptor, since model.ServiceVersion) *Table {
	if err := op.Validate(); err != nil {
		panic(fmt.Sprintf("invoker: %v", err))
	}
	if !t.versions.Contains(since) {
		panic(fmt.Sprintf("invoker: operation %q: %q is not a %s version", op.ID, since, t.versions.Name()))
	}

	t.add(op.ID, variant{since: since, op: op})
	return t
}

// Remove records that id is no longer available from version since on. A
// later Register brings it back. Panics if since is not a member of the
// version set or the version already has a variant of id.
func (t *Table) Remove(id string, since model.ServiceVersion) *Table {
	if !t.versions.Contains(since) {
		panic(fmt.Sprintf("invoker: operation %q: %q is not a %s version", id, since, t.versions.Name()))
	}
	t.add(id, variant{since: since})
	return t
}

func (t *Table) add(id string, v variant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vs := t.ops[id]
	if lo.ContainsBy(vs, func(x variant) bool { return x.since == v.since }) {
		panic(fmt.Sprintf("invoker: operation %q already registered for %s", id, v.since))
	}
	vs = append(vs, v)
	slices.SortFunc(vs, func(a, b variant) int { return t.versions.Compare(a.since, b.since) })
	t.ops[id] = vs
}

// Resolve returns the newest variant of id introduced at or before version.
// An unknown id, an operation introduced after version, or one removed at or
// before version is a validation error.
func (t *Table) Resolve(id string, version model.ServiceVersion) (*model.OperationDescriptor, error) {
	t.mu.RLock()
	vs := t.ops[id]
	t.mu.RUnlock()

	if len(vs) == 0 {
		return nil, model.NewValidationError(id, []model.FieldError{{
			Field:   "operation",
			Code:    "UNKNOWN",
			Message: fmt.Sprintf("%q is not a %s operation", id, t.versions.Name()),
		}})
	}

	msg := fmt.Sprintf("%s requires %s %s or later", id, t.versions.Name(), vs[0].since)
	for i := len(vs) - 1; i >= 0; i-- {
		if t.versions.Compare(vs[i].since, version) > 0 {
			continue
		}
		if vs[i].op != nil {
			return vs[i].op, nil
		}
		msg = fmt.Sprintf("%s was removed in %s %s", id, t.versions.Name(), vs[i].since)
		break
	}

	err := model.NewValidationError(id, []model.FieldError{{
		Field:   "version",
		Code:    "UNAVAILABLE",
		Message: msg,
	}})
	err.Err = model.ErrNoVersion
	return nil, err
}

// IDs returns all registered operation IDs, sorted alphabetically.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := lo.Keys(t.ops)
	sort.Strings(ids)
	return ids
}

// Available returns the IDs of the operations callable in version.
func (t *Table) Available(version model.ServiceVersion) []string {
	return lo.Filter(t.IDs(), func(id string, _ int) bool {
		_, err := t.Resolve(id, version)
		return err == nil
	})
}
