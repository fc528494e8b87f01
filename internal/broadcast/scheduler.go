package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"indexwatch/internal/metrics"
	"indexwatch/internal/provider"
)

const (
	DefaultPollInterval      = 120 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("scheduler stopped")

// State is the scheduler lifecycle state.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Source produces the payload of an update message.
type Source interface {
	All(ctx context.Context) ([]provider.Quote, error)
}

type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Snapshot is a consistent view of the scheduler taken on its goroutine.
type Snapshot struct {
	State   State
	Clients int
	// ActiveTasks is the number of running periodic tasks: 0 or 2.
	ActiveTasks int
	// Activations counts Idle to Active transitions.
	Activations  int
	Polling      bool
	SkippedPolls int
}

type command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

type registerCmd struct {
	baseCommand
	handle Handle
	reply  chan struct{}
}

type unregisterCmd struct {
	baseCommand
	id uuid.UUID
}

type pollResultCmd struct {
	baseCommand
	quotes  []provider.Quote
	err     error
	elapsed time.Duration
}

type snapshotCmd struct {
	baseCommand
	reply chan Snapshot
}

type stopCmd struct {
	baseCommand
}

// Scheduler polls the source while at least one client is registered and
// fans updates and heartbeats out to every live client.
type Scheduler struct {
	cfg    Config
	clock  clockwork.Clock
	source Source
	log    zerolog.Logger

	cmdCh chan command
	done  chan struct{}
	ctx   context.Context
	stop  context.CancelFunc
	polls sync.WaitGroup

	// owned by the run goroutine
	registry        *Registry
	state           State
	pollTicker      clockwork.Ticker
	heartbeatTicker clockwork.Ticker
	polling         bool
	activations     int
	skippedPolls    int
}

// NewScheduler starts a scheduler in the Idle state.
func NewScheduler(source Source, cfg Config, clock clockwork.Clock, log zerolog.Logger) *Scheduler {
	s := newScheduler(source, cfg, clock, log)
	go s.run()
	return s
}

func newScheduler(source Source, cfg Config, clock clockwork.Clock, log zerolog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		clock:    clock,
		source:   source,
		log:      log.With().Str("component", "scheduler").Logger(),
		cmdCh:    make(chan command, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		stop:     cancel,
		registry: NewRegistry(),
		state:    Idle,
	}
}

// Register adds h and sends it a connected message. When it returns, the
// periodic tasks are running.
func (s *Scheduler) Register(h Handle) error {
	reply := make(chan struct{}, 1)
	if !s.send(registerCmd{handle: h, reply: reply}) {
		return ErrStopped
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrStopped
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes the handle with id. It does not close the handle.
func (s *Scheduler) Unregister(id uuid.UUID) {
	s.send(unregisterCmd{id: id})
}

// Snapshot returns the current state as seen by the scheduler goroutine.
func (s *Scheduler) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.send(snapshotCmd{reply: reply}) {
		return Snapshot{}, ErrStopped
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrStopped
	case <-timer.Chan():
		return Snapshot{}, fmt.Errorf("snapshot command timed out after %v", commandTimeout)
	}
}

// State returns Idle after Stop or on error.
func (s *Scheduler) State() State {
	snap, _ := s.Snapshot()
	return snap.State
}

func (s *Scheduler) ClientCount() int {
	snap, _ := s.Snapshot()
	return snap.Clients
}

func (s *Scheduler) ActiveTasks() int {
	snap, _ := s.Snapshot()
	return snap.ActiveTasks
}

// HandleClientMessage processes one inbound frame from h. Subscriptions are
// acknowledged but do not filter updates. Anything unparsable is logged and
// dropped; the connection stays open.
func (s *Scheduler) HandleClientMessage(h Handle, raw []byte) {
	msg, err := parseClientMessage(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("client_id", h.ID().String()).Msg("ignoring malformed client message")
		return
	}
	switch msg.Type {
	case "subscribe":
		symbols := msg.Symbols
		if symbols == nil {
			symbols = []string{}
		}
		s.sendTo(h, newMessage(TypeSubscribed, subscribedData{Symbols: symbols}, s.clock.Now()))
	default:
		s.log.Debug().Str("type", msg.Type).Str("client_id", h.ID().String()).Msg("ignoring unknown client message")
	}
}

// Stop closes every client, cancels an in-flight poll and waits for the
// scheduler goroutine to exit.
func (s *Scheduler) Stop() {
	s.send(stopCmd{})

	timeout := s.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-s.done:
		s.log.Info().Msg("scheduler stopped")
	case <-timeout.Chan():
		s.log.Warn().Dur("timeout", stopTimeout).Msg("scheduler stop timeout exceeded")
	}
	s.stop()
	s.polls.Wait()
}

func (s *Scheduler) send(c command) bool {
	select {
	case s.cmdCh <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduler panic recovered")
			s.enterIdle()
			s.registry.closeAll()
		}
	}()

	for {
		select {
		case cmd := <-s.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				s.handleRegister(c)
			case unregisterCmd:
				s.handleUnregister(c)
			case pollResultCmd:
				s.handlePollResult(c)
			case snapshotCmd:
				c.reply <- s.snapshot()
			case stopCmd:
				s.handleStop()
				return
			default:
				s.log.Warn().Str("command_type", fmt.Sprintf("%T", cmd)).Msg("unknown command")
			}
		case <-tickerChan(s.pollTicker):
			s.handlePollTick()
		case <-tickerChan(s.heartbeatTicker):
			s.handleHeartbeat()
		}
	}
}

// tickerChan returns nil for a stopped task so its select case never fires.
func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

// enterActive and enterIdle are the only places tickers are created or stopped.
func (s *Scheduler) enterActive() {
	if s.state == Active {
		return
	}
	s.pollTicker = s.clock.NewTicker(s.cfg.PollInterval)
	s.heartbeatTicker = s.clock.NewTicker(s.cfg.HeartbeatInterval)
	s.state = Active
	s.activations++
	metrics.SchedulerActive.Set(1)
	s.log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("heartbeat_interval", s.cfg.HeartbeatInterval).
		Msg("started broadcasting")
}

func (s *Scheduler) enterIdle() {
	if s.state == Idle {
		return
	}
	s.pollTicker.Stop()
	s.heartbeatTicker.Stop()
	s.pollTicker, s.heartbeatTicker = nil, nil
	s.state = Idle
	metrics.SchedulerActive.Set(0)
	s.log.Info().Msg("stopped broadcasting")
}

func (s *Scheduler) handleRegister(c registerCmd) {
	wasEmpty := s.registry.Add(c.handle)
	metrics.ConnectedClients.Set(float64(s.registry.Size()))

	s.sendTo(c.handle, newMessage(TypeConnected, connectedData{Message: "Connected to financial data stream"}, s.clock.Now()))

	if wasEmpty {
		s.enterActive()
	}
	s.log.Debug().Str("client_id", c.handle.ID().String()).Int("total_clients", s.registry.Size()).Msg("client registered")
	c.reply <- struct{}{}
}

func (s *Scheduler) handleUnregister(c unregisterCmd) {
	if _, ok := s.registry.Remove(c.id); !ok {
		return
	}
	metrics.ConnectedClients.Set(float64(s.registry.Size()))

	if s.registry.Size() == 0 {
		s.enterIdle()
		s.log.Info().Msg("last client disconnected")
		return
	}
	s.log.Debug().Str("client_id", c.id.String()).Int("remaining_clients", s.registry.Size()).Msg("client unregistered")
}

func (s *Scheduler) handlePollTick() {
	if s.registry.Size() == 0 {
		return
	}
	if s.polling {
		s.skippedPolls++
		metrics.PollsSkipped.Inc()
		s.log.Warn().Msg("previous poll still running, skipping tick")
		return
	}
	s.polling = true

	s.polls.Add(1)
	go func() {
		defer s.polls.Done()
		start := s.clock.Now()
		quotes, err := s.source.All(s.ctx)
		s.send(pollResultCmd{quotes: quotes, err: err, elapsed: s.clock.Since(start)})
	}()
}

func (s *Scheduler) handlePollResult(c pollResultCmd) {
	s.polling = false
	metrics.PollDuration.Observe(c.elapsed.Seconds())

	if s.registry.Size() == 0 {
		return
	}

	var msg Message
	if c.err != nil {
		s.log.Error().Err(c.err).Msg("poll failed")
		msg = newMessage(TypeError, errorData{Message: pollFailedMessage}, s.clock.Now())
	} else {
		quotes := c.quotes
		if quotes == nil {
			quotes = []provider.Quote{}
		}
		msg = newMessage(TypeUpdate, quotes, s.clock.Now())
	}
	n := s.broadcast(msg)
	s.log.Info().Int("clients", n).Int("quotes", len(c.quotes)).Msg("broadcasted update")
}

func (s *Scheduler) handleHeartbeat() {
	s.broadcast(newMessage(TypeHeartbeat, nil, s.clock.Now()))
}

func (s *Scheduler) handleStop() {
	s.log.Info().Int("clients", s.registry.Size()).Msg("scheduler shutting down")
	s.stop()
	s.enterIdle()
	s.registry.closeAll()
	metrics.ConnectedClients.Set(0)
}

func (s *Scheduler) snapshot() Snapshot {
	tasks := 0
	if s.pollTicker != nil {
		tasks++
	}
	if s.heartbeatTicker != nil {
		tasks++
	}
	return Snapshot{
		State:        s.state,
		Clients:      s.registry.Size(),
		ActiveTasks:  tasks,
		Activations:  s.activations,
		Polling:      s.polling,
		SkippedPolls: s.skippedPolls,
	}
}

// broadcast encodes msg once and queues it on every live handle.
func (s *Scheduler) broadcast(msg Message) int {
	data, err := msg.encode()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode broadcast")
		return 0
	}
	return s.registry.ForEachLive(func(h Handle) {
		deliver(h, msg.Type, data)
	})
}

func (s *Scheduler) sendTo(h Handle, msg Message) {
	data, err := msg.encode()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode message")
		return
	}
	deliver(h, msg.Type, data)
}

func deliver(h Handle, t MessageType, data []byte) {
	if h.Send(data) {
		metrics.MessagesSent.WithLabelValues(string(t)).Inc()
		return
	}
	metrics.MessagesDropped.Inc()
}
