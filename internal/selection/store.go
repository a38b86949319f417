package selection

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/model"
)

// ErrNoneSelected is returned by operations that need an active farm.
var ErrNoneSelected = errors.New("selection: no farm selected")

const mirrorFile = "selected_farm.json"

// Store holds the single selected farm and mirrors it to disk so a client
// restart lands on the same farm. At most one farm is selected at a time.
type Store struct {
	mu      sync.RWMutex
	current *model.Farm
	path    string
	log     *zap.Logger
	subs    map[chan model.FarmID]struct{}
}

// NewStore loads the persisted mirror, if any. A missing or corrupt mirror
// means no selection.
func NewStore(stateDir string, log *zap.Logger) *Store {
	s := &Store{
		path: filepath.Join(stateDir, mirrorFile),
		log:  log,
		subs: make(map[chan model.FarmID]struct{}),
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var farm model.Farm
	if err := json.Unmarshal(raw, &farm); err != nil || farm.ID == 0 {
		s.log.Warn("ignoring invalid selection mirror", zap.String("path", s.path))
		return
	}
	s.current = &farm
	s.log.Info("restored selected farm", zap.Int64("farm_id", int64(farm.ID)), zap.String("name", farm.Name))
}

// Select makes farm the active one and persists the mirror. Any in-flight
// fetch stamped with a different farm id becomes stale by definition; the
// sync engine's admission check discards it on arrival.
func (s *Store) Select(farm model.Farm) {
	s.mu.Lock()
	f := farm
	s.current = &f
	s.persist(f)
	s.mu.Unlock()
	s.notify(farm.ID)
}

// Clear drops the selection and removes the mirror; called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("could not remove selection mirror", zap.Error(err))
	}
	s.mu.Unlock()
	s.notify(0)
}

// Current returns the active farm, if any.
func (s *Store) Current() (model.Farm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.Farm{}, false
	}
	return *s.current, true
}

// CurrentID returns the active farm id, 0 when none. This is the value the
// sync engine compares fetch stamps against.
func (s *Store) CurrentID() model.FarmID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.ID
}

// Subscribe returns a channel receiving the farm id after every change
// (0 = cleared). Sends never block; a slow consumer misses intermediate
// values, not the latest poll.
func (s *Store) Subscribe() chan model.FarmID {
	ch := make(chan model.FarmID, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan model.FarmID) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Store) notify(id model.FarmID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

// persist writes the mirror atomically (temp file + rename) so a crash
// mid-write cannot leave a half-serialized farm behind. Caller holds the
// lock.
func (s *Store) persist(farm model.Farm) {
	raw, err := json.Marshal(farm)
	if err != nil {
		s.log.Warn("could not serialize selection", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Warn("could not create state dir", zap.Error(err))
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		s.log.Warn("could not write selection mirror", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("could not replace selection mirror", zap.Error(err))
	}
}
