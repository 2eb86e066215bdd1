package control

import (
	"fmt"
	"strings"
	"sync"

	"larkspur.is/curfew/internal/remote"
)

// fakeRemote is a stateful in-memory rule API. Unlike a call-recording mock
// it applies mutations, so tests can assert on the remote state a sequence
// of operations leaves behind. Failures are injected per operation name.
type fakeRemote struct {
	mu    sync.Mutex
	rules map[string]*remote.Snapshot
	fail  map[string]error
	calls []string

	// gate, when set, blocks mutations until released. Used to hold a
	// mutation in flight while other requests arrive.
	gate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rules: make(map[string]*remote.Snapshot),
		fail:  make(map[string]error),
	}
}

func (f *fakeRemote) put(s *remote.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[s.ID] = s.Clone()
}

func (f *fakeRemote) get(id string) *remote.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rules[id]; ok {
		return s.Clone()
	}
	return nil
}

func (f *fakeRemote) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
	} else {
		f.fail[op] = err
	}
}

func (f *fakeRemote) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeRemote) mutationCount() int {
	return f.callCount("replace") + f.callCount("batch-update")
}

func (f *fakeRemote) begin(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.fail[op]
	gate := f.gate
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if gate != nil && op != "fetch" && op != "list" {
		<-gate
	}
	return nil
}

func (f *fakeRemote) Fetch(ruleID string) (*remote.Snapshot, error) {
	if err := f.begin("fetch"); err != nil {
		return nil, err
	}
	s := f.get(ruleID)
	if s == nil {
		return nil, fmt.Errorf("%w: rule %s", remote.ErrNotFound, ruleID)
	}
	return s, nil
}

func (f *fakeRemote) Replace(ruleID string, obj *remote.Snapshot) (*remote.Snapshot, error) {
	if err := f.begin("replace"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[ruleID]; !ok {
		return nil, fmt.Errorf("%w: rule %s", remote.ErrNotFound, ruleID)
	}
	f.rules[ruleID] = obj.Clone()
	return obj.Clone(), nil
}

func (f *fakeRemote) BatchPartialUpdate(ruleID string, delta remote.FieldDelta) (*remote.Snapshot, error) {
	if err := f.begin("batch-update"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s", remote.ErrNotFound, ruleID)
	}
	if v, ok := delta["enabled"]; ok {
		s.Enabled = v.(bool)
	}
	return s.Clone(), nil
}

func (f *fakeRemote) List(filter remote.ListFilter) ([]*remote.Snapshot, error) {
	if err := f.begin("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*remote.Snapshot
	for _, s := range f.rules {
		if len(filter.NamePrefixes) == 0 {
			out = append(out, s.Clone())
			continue
		}
		for _, p := range filter.NamePrefixes {
			if strings.HasPrefix(s.Name, p) {
				out = append(out, s.Clone())
				break
			}
		}
	}
	return out, nil
}
