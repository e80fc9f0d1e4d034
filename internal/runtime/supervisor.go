// Package runtime implements RuntimeSupervisor (spec.md §4.6) and the
// network rebind sequence (§4.7): the per-container start/kill/restart
// state machine, log/stat tailing with backoff, and stdin delivery.
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/rs/zerolog/log"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// streamHandle tracks the goroutines and cancel func tailing one
// container's logs/stats, so a second start() call is a no-op.
type streamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns runtime state transitions for every container. It is
// process-wide, matching the "global mutable state...encapsulate behind
// a passed-in handle" design note in spec.md §9.
type Supervisor struct {
	store  *containerstore.Store
	driver dockerdriver.Driver
	bus    *eventbus.Bus
	locks  *Locks

	mu      sync.Mutex
	streams map[string]*streamHandle
}

func NewSupervisor(store *containerstore.Store, driver dockerdriver.Driver, bus *eventbus.Bus, locks *Locks) *Supervisor {
	return &Supervisor{store: store, driver: driver, bus: bus, locks: locks, streams: map[string]*streamHandle{}}
}

func publish(bus *eventbus.Bus, id string, kind domain.EventKind, data string) {
	bus.Publish(id, domain.Event{Tag: kind, Data: data})
}

func publishState(bus *eventbus.Bus, id, state string) {
	publish(bus, id, domain.EventState, state)
}

// Start requires install_state=ready and runtime_state ∈
// {stopped, exited}. Idempotent if the container is already running.
func (s *Supervisor) Start(ctx context.Context, internalID string) error {
	lock := s.locks.For(internalID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, internalID)
	if err != nil {
		return err
	}
	if rec.InstallState != domain.InstallStateReady {
		return apierr.Conflict("container %s is not ready", internalID)
	}
	if rec.RuntimeState == domain.RuntimeRunning || rec.RuntimeState == domain.RuntimeStarting {
		return nil
	}
	if rec.RuntimeState != domain.RuntimeStopped && rec.RuntimeState != domain.RuntimeExited {
		return apierr.Conflict("container %s is in state %s, cannot start", internalID, rec.RuntimeState)
	}

	if _, err := s.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.RuntimeState = domain.RuntimeStarting
		return nil
	}); err != nil {
		return err
	}
	publishState(s.bus, internalID, domain.StateStarting)

	if err := s.driver.Start(ctx, rec.DockerID); err != nil {
		_, _ = s.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
			r.RuntimeState = domain.RuntimeStopped
			return nil
		})
		return apierr.Wrap(apierr.KindExternal, "docker start failed", err)
	}

	s.attachStreams(internalID, rec.DockerID, rec.StartPattern)
	return nil
}

// attachStreams starts the log and stats tailing goroutines for a
// container, unless they are already running (idempotency per spec.md
// §4.6).
func (s *Supervisor) attachStreams(internalID, dockerID, startPattern string) {
	s.mu.Lock()
	if _, exists := s.streams[internalID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	handle := &streamHandle{cancel: cancel, done: make(chan struct{})}
	s.streams[internalID] = handle
	s.mu.Unlock()

	matcher := compileStartPattern(startPattern, s.bus, internalID)

	go func() {
		defer close(handle.done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); s.tailLogs(ctx, internalID, dockerID, matcher) }()
		go func() { defer wg.Done(); s.tailStats(ctx, internalID, dockerID) }()
		wg.Wait()

		s.mu.Lock()
		delete(s.streams, internalID)
		s.mu.Unlock()
	}()

	if startPattern == "" {
		go s.publishRunningWhenDockerReports(ctx, internalID, dockerID)
	}
}

func (s *Supervisor) publishRunningWhenDockerReports(ctx context.Context, internalID, dockerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		running, err := s.driver.IsRunning(ctx, dockerID)
		if err == nil && running {
			s.markRunning(internalID)
			return
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) markRunning(internalID string) {
	_, err := s.store.Update(context.Background(), internalID, func(r *domain.ContainerRecord) error {
		if r.RuntimeState == domain.RuntimeRunning {
			return fmt.Errorf("already running")
		}
		r.RuntimeState = domain.RuntimeRunning
		return nil
	})
	if err != nil {
		return
	}
	publishState(s.bus, internalID, domain.StateRunning)
}

// patternMatcher decides whether a console line flips runtime_state to
// running. Regex compile failure falls back to literal substring match
// with a daemon_message noting the fallback, per spec.md §9.
type patternMatcher struct {
	re      *regexp.Regexp
	literal string
}

func compileStartPattern(pattern string, bus *eventbus.Bus, internalID string) *patternMatcher {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		publish(bus, internalID, domain.EventDaemonMessage, "start_pattern is not a valid regex, falling back to substring match")
		return &patternMatcher{literal: pattern}
	}
	return &patternMatcher{re: re}
}

func (m *patternMatcher) match(line string) bool {
	if m.re != nil {
		return m.re.MatchString(line)
	}
	return strings.Contains(line, m.literal)
}

// tailLogs streams console chunks and reconnects with exponential
// backoff on failure, matching spec.md §4.4's reconnect contract.
func (s *Supervisor) tailLogs(ctx context.Context, internalID, dockerID string, matcher *patternMatcher) {
	backoff := backoffBase
	matched := matcher == nil
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reader, err := s.driver.AttachLogs(ctx, dockerID)
		if err != nil {
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			line := scanner.Text()
			publish(s.bus, internalID, domain.EventConsole, line)
			publish(s.bus, internalID, domain.EventConsoleDup, line)
			if !matched && matcher != nil && matcher.match(line) {
				matched = true
				s.markRunning(internalID)
			}
		}
		reader.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// tailStats streams sampled stats, publishing through the bus's own
// change-detection so P4 (no two consecutive identical payloads) holds.
func (s *Supervisor) tailStats(ctx context.Context, internalID, dockerID string) {
	backoff := backoffBase
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		samples, err := s.driver.AttachStats(ctx, dockerID)
		if err != nil {
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase

		for sample := range samples {
			s.bus.PublishStats(internalID, sample, encodeStats)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func encodeStats(s domain.Stats) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffCap {
		return backoffCap
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// stopStreams cancels the log/stats goroutines for internalID, if any,
// and waits for them to exit.
func (s *Supervisor) stopStreams(internalID string) {
	s.mu.Lock()
	handle, ok := s.streams[internalID]
	s.mu.Unlock()
	if !ok {
		return
	}
	handle.cancel()
	<-handle.done
}

// Kill sends SIGKILL and publishes the stopping/exit transition.
func (s *Supervisor) Kill(ctx context.Context, internalID string) error {
	lock := s.locks.For(internalID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, internalID)
	if err != nil {
		return err
	}

	if _, err := s.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.RuntimeState = domain.RuntimeStopping
		return nil
	}); err != nil {
		return err
	}
	publishState(s.bus, internalID, domain.StateStopping)

	if err := s.driver.Kill(ctx, rec.DockerID, "SIGKILL"); err != nil {
		return apierr.Wrap(apierr.KindExternal, "docker kill failed", err)
	}

	s.stopStreams(internalID)

	if _, err := s.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.RuntimeState = domain.RuntimeStopped
		return nil
	}); err != nil {
		return err
	}
	publishState(s.bus, internalID, domain.StateExit)
	return nil
}

// Restart is kill then start, preserving subscribers (they stay attached
// to the EventBus hub throughout).
func (s *Supervisor) Restart(ctx context.Context, internalID string) error {
	if err := s.Kill(ctx, internalID); err != nil {
		return err
	}
	return s.Start(ctx, internalID)
}

// SendCommand writes bytes to the container's stdin.
func (s *Supervisor) SendCommand(ctx context.Context, internalID string, command []byte) error {
	rec, err := s.store.Get(ctx, internalID)
	if err != nil {
		return err
	}
	if rec.RuntimeState != domain.RuntimeRunning {
		return apierr.Conflict("container %s is not running", internalID)
	}
	if err := s.driver.SendInput(ctx, rec.DockerID, command); err != nil {
		return apierr.Wrap(apierr.KindExternal, "send_command failed", err)
	}
	return nil
}

// HandleCrash records a container exit not initiated by the daemon
// itself: it stops the streams, marks the record stopped, and publishes
// exit with the exit code as a daemon_message. Nothing in this package
// calls it; when the log stream closes, tailLogs reconnects instead of
// detecting an exit.
func (s *Supervisor) HandleCrash(ctx context.Context, internalID string, exitCode int) {
	s.stopStreams(internalID)
	_, _ = s.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.RuntimeState = domain.RuntimeStopped
		return nil
	})
	publish(s.bus, internalID, domain.EventDaemonMessage, fmt.Sprintf("container exited unexpectedly with code %d", exitCode))
	publishState(s.bus, internalID, domain.StateExit)
	log.Warn().Str("internal_id", internalID).Int("exit_code", exitCode).Msg("container crashed")
}
