package loader

import (
	"context"
	"sync"

	"github.com/reelcast/reelcast/internal/domain"
)

// Phase is the lifecycle position of a session's current video
type Phase int

const (
	PhaseIdle    Phase = iota
	PhaseLoading       // Nothing playable yet
	PhasePartial       // Prefix blob exposed
	PhaseFull          // Full blob exposed
	PhaseDirect        // Raw source URL exposed after a fetch failure
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhasePartial:
		return "partial"
	case PhaseFull:
		return "full"
	case PhaseDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Playable reports whether a source URL is exposed
func (p Phase) Playable() bool {
	return p == PhasePartial || p == PhaseFull || p == PhaseDirect
}

// State is a snapshot of a session
type State struct {
	ID        string
	Phase     Phase
	Progress  int  // 0-100; the prefix covers 0-30
	Loading   bool // A fetch is still running
	SourceURL string
}

// Session loads one video at a time for one consumer (a player view).
// Loading a new id aborts the previous load; Close releases everything.
type Session struct {
	loader   *Loader
	onChange func(State)

	mu        sync.Mutex
	state     State
	sourceURL string // Remote URL of the current video
	objectURL string // Currently exposed object URL, revoked under mu when superseded
	gen       uint64 // Bumped on every Load; stale goroutines compare against it
	cancel    context.CancelFunc
	done      chan struct{} // Closed when the current load goroutine exits
	changed   chan struct{} // Closed and replaced on every state change
	closed    bool
}

// NewSession creates a session. onChange (optional) is called after every
// state change, possibly from a loader goroutine.
func (l *Loader) NewSession(onChange func(State)) *Session {
	done := make(chan struct{})
	close(done)
	return &Session{
		loader:   l,
		onChange: onChange,
		done:     done,
		changed:  make(chan struct{}),
	}
}

// Load starts loading video id from url, aborting any load in progress
func (s *Session) Load(id, url string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.sourceURL = url

	s.loader.revoke(s.objectURL)
	s.objectURL = ""
	s.state = State{ID: id, Phase: PhaseLoading, Loading: true}
	st := s.commitLocked()
	s.mu.Unlock()

	s.emit(st)

	go func() {
		defer close(done)
		s.run(ctx, gen, id, url)
	}()
}

// Reload restarts the current video. A cached prefix is reused and the
// full download is retried.
func (s *Session) Reload() {
	s.mu.Lock()
	id, url := s.state.ID, s.sourceURL
	s.mu.Unlock()

	if id != "" {
		s.Load(id, url)
	}
}

// State returns the current snapshot
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitFor blocks until cond holds for the session state or ctx is done
func (s *Session) WaitFor(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st, changed := s.state, s.changed
		s.mu.Unlock()

		if cond(st) {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// WaitReady blocks until a source is playable
func (s *Session) WaitReady(ctx context.Context) (State, error) {
	return s.WaitFor(ctx, func(st State) bool { return st.Phase.Playable() })
}

// Wait blocks until the current load goroutine, background upgrade included, has exited
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts the current load and revokes the exposed object URL
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.loader.revoke(s.objectURL)
	s.objectURL = ""
	s.state = State{}
	s.commitLocked()
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context, gen uint64, id, url string) {
	l := s.loader

	if data, ok := l.cache.Get(domain.PartialKey(id)); ok {
		l.logger.Debug("partial video cache hit", "videoID", id)
		s.expose(gen, data, PhasePartial, partialProgress, true)
		s.upgrade(ctx, gen, id, url)
		return
	}

	if data, ok := l.cache.Get(id); ok {
		l.logger.Debug("full video cache hit", "videoID", id)
		s.expose(gen, data, PhaseFull, 100, false)
		return
	}

	data, complete, err := l.fetchPrefix(ctx, url, s.progressFunc(gen, partialProgress))
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil && complete:
		l.store(id, data, domain.PriorityLow)
		s.expose(gen, data, PhaseFull, 100, false)
		return

	case err == nil:
		l.store(domain.PartialKey(id), data, domain.PriorityHigh)
		s.expose(gen, data, PhasePartial, partialProgress, true)
		s.upgrade(ctx, gen, id, url)
		return
	}

	l.logger.Warn("ranged video fetch failed, loading full video", "videoID", id, "error", err)

	data, err = l.loadFull(ctx, id, url)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.logger.Error("video fetch failed, using direct URL", "videoID", id, "error", err)
		s.direct(gen, url)
		return
	}
	s.expose(gen, data, PhaseFull, 100, false)
}

// upgrade replaces an exposed prefix with the full video.
// On failure the prefix stays exposed until Reload.
func (s *Session) upgrade(ctx context.Context, gen uint64, id, url string) {
	l := s.loader

	data, ok := l.cache.Get(id)
	if !ok {
		var err error
		data, err = l.loadFull(ctx, id, url)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("full video load failed, staying on partial", "videoID", id, "error", err)
				s.update(gen, func(st *State) bool {
					st.Loading = false
					return true
				})
			}
			return
		}
	}

	if !s.expose(gen, data, PhaseFull, 100, false) {
		return
	}
	if err := l.cache.Remove(domain.PartialKey(id)); err != nil {
		l.logger.Warn("failed to drop partial video", "videoID", id, "error", err)
	}
}

// expose publishes data as the playable source. Returns false if the load was superseded.
func (s *Session) expose(gen uint64, data []byte, phase Phase, progress int, loading bool) bool {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return false
	}
	url := s.loader.urls.Create(data, videoContentType)
	s.loader.revoke(s.objectURL)
	s.objectURL = url
	s.state.Phase = phase
	s.state.Progress = progress
	s.state.Loading = loading
	s.state.SourceURL = url
	st := s.commitLocked()
	s.mu.Unlock()

	s.emit(st)
	return true
}

// direct exposes the remote URL itself, without caching
func (s *Session) direct(gen uint64, url string) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.loader.revoke(s.objectURL)
	s.objectURL = ""
	s.state.Phase = PhaseDirect
	s.state.Progress = 0
	s.state.Loading = false
	s.state.SourceURL = url
	st := s.commitLocked()
	s.mu.Unlock()

	s.emit(st)
}

// update applies fn to the state of load gen; fn returns false for no change
func (s *Session) update(gen uint64, fn func(*State) bool) {
	s.mu.Lock()
	if gen != s.gen || s.closed || !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	st := s.commitLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) progressFunc(gen uint64, max int) domain.ProgressFunc {
	return func(loaded, total int64) {
		if total <= 0 {
			return
		}
		pct := int(loaded * int64(max) / total)
		if pct > max {
			pct = max
		}
		s.update(gen, func(st *State) bool {
			if st.Progress == pct {
				return false
			}
			st.Progress = pct
			return true
		})
	}
}

func (s *Session) commitLocked() State {
	close(s.changed)
	s.changed = make(chan struct{})
	return s.state
}

func (s *Session) emit(st State) {
	if s.onChange != nil {
		s.onChange(st)
	}
}
