package crimesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/loader"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var errFake = errors.New("fake failure")

type fakeUpstream struct {
	date string
	ok   bool
}

func (f fakeUpstream) LastUpdated(context.Context) (string, bool) {
	return f.date, f.ok
}

// fakeStore keeps variables in memory and logs every write.
type fakeStore struct {
	vars    map[string]string
	writes  []string
	regions map[string]bool

	sanity    string
	sanityErr error
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vars:    map[string]string{},
		regions: map[string]bool{"Reading Borough": true},
		sanity:  "0",
	}
}

func (s *fakeStore) GetVariable(_ context.Context, name string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.vars[name]
	return v, ok, nil
}

func (s *fakeStore) PostVariable(_ context.Context, name, value string) error {
	s.writes = append(s.writes, fmt.Sprintf("post %s=%s", name, value))
	s.vars[name] = value
	return nil
}

func (s *fakeStore) PutVariable(_ context.Context, name, value string) error {
	s.writes = append(s.writes, fmt.Sprintf("put %s=%s", name, value))
	s.vars[name] = value
	return nil
}

func (s *fakeStore) DeleteVariable(_ context.Context, name string) error {
	s.writes = append(s.writes, "delete "+name)
	delete(s.vars, name)
	return nil
}

func (s *fakeStore) PlaceExists(_ context.Context, field, value string) (bool, error) {
	return field == "name" && s.regions[value], nil
}

func (s *fakeStore) SanityCheck(context.Context) (string, error) {
	return s.sanity, s.sanityErr
}

// writesTo returns the writes that touched variable name.
func (s *fakeStore) writesTo(name string) []string {
	var out []string
	for _, w := range s.writes {
		if containsVar(w, name) {
			out = append(out, w)
		}
	}
	return out
}

func containsVar(write, name string) bool {
	for _, prefix := range []string{"post ", "put ", "delete "} {
		if len(write) >= len(prefix)+len(name) && write[:len(prefix)] == prefix && write[len(prefix):len(prefix)+len(name)] == name {
			return true
		}
	}
	return false
}

type fakeForces struct {
	calls int
	err   error
}

func (f *fakeForces) Load(context.Context, string) (loader.ForceSummary, error) {
	f.calls++
	return loader.ForceSummary{Forces: 1}, f.err
}

// fakePeriods records every loader call as "<kind> <month>".
// onCall, when set, runs after each call is recorded.
type fakePeriods struct {
	calls  []string
	count  int
	onCall func(call string)
}

func (f *fakePeriods) call(name string) int {
	f.calls = append(f.calls, name)
	if f.onCall != nil {
		f.onCall(name)
	}
	return f.count
}

func (f *fakePeriods) LoadCategories(_ context.Context, month string) int {
	return f.call("categories " + month)
}

func (f *fakePeriods) LoadCrimes(_ context.Context, _, month string) int {
	return f.call("crimes " + month)
}

func (f *fakePeriods) LoadOutcomes(_ context.Context, _, month string) int {
	return f.call("outcomes " + month)
}

func (f *fakePeriods) LoadStops(_ context.Context, _, month string) int {
	return f.call("stops " + month)
}

func april2024() time.Time {
	return time.Date(2024, time.April, 15, 9, 30, 0, 0, time.UTC)
}
