package campaign

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress is a point-in-time view of the controller for observers
type Progress struct {
	RunID     string `json:"run_id,omitempty"`
	State     State  `json:"state"`
	Status    Status `json:"status"`
	Phase     Phase  `json:"phase"`
	Position  int    `json:"position"`
	Total     int    `json:"total"`
	Recipient string `json:"recipient,omitempty"`
	Armed     string `json:"armed_delay,omitempty"`
}

// RunSummary describes a run that has ended, either finished or stopped
type RunSummary struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Status    Status
	Position  int
	Total     int
	Config    Config
	Entries   []Entry
}

// Observer is notified of controller activity. Callbacks run synchronously
// while the controller holds its lock and must not call back into it.
type Observer interface {
	OnTransition(from, to State, p Progress)
	OnEntry(e Entry)
	OnRunEnd(run RunSummary)
}

// NopObserver can be embedded to implement only part of Observer
type NopObserver struct{}

func (NopObserver) OnTransition(from, to State, p Progress) {}
func (NopObserver) OnEntry(e Entry)                         {}
func (NopObserver) OnRunEnd(run RunSummary)                 {}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Clock     Clock
	Recorder  *Recorder
	Logger    *slog.Logger
	Intn      func(n int) int // picks monitor message variants
	Observers []Observer
}

type slot int

const (
	slotNone slot = iota
	slotNext
	slotSend
)

func (s slot) String() string {
	switch s {
	case slotNext:
		return "next"
	case slotSend:
		return "send"
	default:
		return "none"
	}
}

// Controller sequences the sends of one campaign run at a time.
//
// At most one delay is armed at any moment. Every arm bumps a generation
// counter captured by the callback, and a callback whose generation is no
// longer current does nothing, so a timer that fires concurrently with a
// cancel can never advance the run. All operations and callbacks hold mu for
// their whole transition.
type Controller struct {
	mu        sync.Mutex
	clock     Clock
	log       *Recorder
	logger    *slog.Logger
	intn      func(n int) int
	observers []Observer

	cfg       Config
	hasConfig bool
	runID     string
	startedAt time.Time
	state     State
	position  int

	timer Timer
	armed slot
	gen   uint64
}

// NewController creates an idle controller
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Recorder == nil {
		opts.Recorder = NewRecorder()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}

	return &Controller{
		clock:     opts.Clock,
		log:       opts.Recorder,
		logger:    opts.Logger,
		intn:      opts.Intn,
		observers: opts.Observers,
		state:     StateStopped,
	}
}

// AddObserver registers an observer. It must be called before Start.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Recorder returns the log the controller appends to
func (c *Controller) Recorder() *Recorder {
	return c.log
}

// Start validates cfg, clears the log and begins a new run at position 0.
// An active run is cancelled first.
func (c *Controller) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.begin(cfg)
	return nil
}

// begin starts a run from a config that has already been validated
func (c *Controller) begin(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelTimer()
	c.cfg = cfg.normalized()
	c.hasConfig = true
	c.runID = uuid.NewString()
	c.startedAt = c.clock.Now()
	c.position = 0
	c.log.Clear()

	c.transition(EventStart)
	c.info("Campaign started")
	c.logger.Info("campaign started",
		"run_id", c.runID,
		"recipients", len(c.cfg.Recipients),
		"delay_between", c.cfg.DelayBetween.Duration(),
		"send_action_delay", c.cfg.SendActionDelay.Duration(),
	)

	c.advance(0)
}

// Stop cancels the run. It reports false if no run was active.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Can(EventStop) {
		return false
	}

	c.cancelTimer()
	c.transition(EventStop)
	c.info("Campaign stopped by user")
	c.logger.Info("campaign stopped", "run_id", c.runID, "position", c.position)
	c.endRun()
	return true
}

// Pause suspends the outstanding delay. The phase is kept so Resume knows
// which delay to re-arm. Only a running campaign can be paused.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Can(EventPause) {
		return false
	}

	c.cancelTimer()
	c.transition(EventPause)
	c.info("Campaign paused")
	c.logger.Info("campaign paused", "run_id", c.runID, "position", c.position, "phase", c.state.Phase())
	return true
}

// Resume re-arms the delay that was pending when the campaign was paused.
// The delay restarts from its full duration.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Can(EventResume) {
		return false
	}

	c.transition(EventResume)
	c.info("Campaign resumed")
	c.logger.Info("campaign resumed", "run_id", c.runID, "position", c.position, "phase", c.state.Phase())

	switch c.state.Phase() {
	case PhaseWaitingForNext:
		c.advance(c.position)
	case PhaseWaitingForSend:
		c.send(c.position)
	}
	return true
}

// Skip bypasses the current recipient while its send delay is outstanding.
func (c *Controller) Skip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Can(EventSkip) {
		return false
	}

	c.cancelTimer()
	c.transition(EventSkip)

	recipient := c.cfg.Recipients[c.position]
	c.record(Entry{
		Message: "Skipped " + recipient,
		Tag:     TagSkipped,
		Details: &Details{
			Recipient: recipient,
			Outcome:   OutcomeSkipped,
		},
	})
	c.logger.Info("recipient skipped", "run_id", c.runID, "position", c.position, "recipient", recipient)

	c.advance(c.position + 1)
	return true
}

// UpdateDeliveryStatus changes the delivery status of the log entry at
// index (newest-first). It reports whether an entry was changed.
func (c *Controller) UpdateDeliveryStatus(index int, status DeliveryStatus) bool {
	return c.log.UpdateDeliveryStatus(index, status)
}

// Progress returns the current progress snapshot
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress()
}

// Log returns a newest-first snapshot of the campaign log
func (c *Controller) Log() []Entry {
	return c.log.Entries()
}

// Config returns the config of the current or last run
func (c *Controller) Config() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.normalized(), c.hasConfig
}

// advance moves to position and arms the next-recipient delay, or finishes
// the run when every recipient has been handled.
func (c *Controller) advance(position int) {
	c.position = position

	if position >= len(c.cfg.Recipients) {
		c.cancelTimer()
		c.transition(EventFinish)
		c.info("Campaign finished")
		c.logger.Info("campaign finished", "run_id", c.runID, "recipients", len(c.cfg.Recipients))
		c.endRun()
		return
	}

	delay := c.cfg.DelayBetween.Duration()
	if position == 0 {
		delay = 0
	}

	c.transition(EventArmNext)
	c.arm(slotNext, delay, func() {
		c.send(position)
	})
}

// send arms the send-action delay for the recipient at position
func (c *Controller) send(position int) {
	c.transition(EventArmSend)
	c.arm(slotSend, c.cfg.SendActionDelay.Duration(), func() {
		c.deliver(position)
	})
}

// deliver records the simulated send and moves on to the next recipient
func (c *Controller) deliver(position int) {
	recipient := c.cfg.Recipients[position]
	tmpl := c.cfg.templateFor(position)
	pending := DeliveryPending

	c.record(Entry{
		Message: "Message sent to " + recipient,
		Tag:     TagSuccess,
		Details: &Details{
			Recipient:      recipient,
			Outcome:        OutcomeSent,
			Body:           tmpl.Body,
			Attachment:     tmpl.Attachment,
			DeliveryStatus: &pending,
		},
	})
	c.logger.Debug("message sent", "run_id", c.runID, "position", position, "recipient", recipient)

	if c.cfg.monitorEnabled() {
		variant := c.cfg.MonitorMessages[c.intn(len(c.cfg.MonitorMessages))]
		c.record(Entry{
			Message: fmt.Sprintf("Monitor message to %s: %s", c.cfg.MonitorRecipient, variant),
			Tag:     TagInfo,
			Details: &Details{
				Recipient: c.cfg.MonitorRecipient,
				Body:      variant,
			},
		})
	}

	c.advance(position + 1)
}

// arm schedules fn after d in slot s, replacing any armed timer
func (c *Controller) arm(s slot, d time.Duration, fn func()) {
	c.cancelTimer()

	c.gen++
	gen := c.gen
	c.armed = s
	c.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.gen {
			c.logger.Debug("stale timer ignored", "slot", s.String(), "generation", gen)
			return
		}
		c.timer = nil
		c.armed = slotNone
		fn()
	})
}

// cancelTimer stops the armed timer, if any, and invalidates its callback
func (c *Controller) cancelTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = slotNone
	c.gen++
}

func (c *Controller) transition(ev Event) {
	next, ok := c.state.Next(ev)
	if !ok {
		c.logger.Warn("transition rejected", "state", c.state.String(), "event", string(ev))
		return
	}

	prev := c.state
	c.state = next
	// a restart of an active run is reported even though the state is unchanged
	if prev == next && ev != EventStart {
		return
	}

	p := c.progress()
	for _, o := range c.observers {
		o.OnTransition(prev, next, p)
	}
}

func (c *Controller) info(msg string) {
	c.record(Entry{Message: msg, Tag: TagInfo})
}

func (c *Controller) record(e Entry) {
	e.ID = uuid.NewString()
	e.Timestamp = c.clock.Now()
	c.log.Append(e)

	for _, o := range c.observers {
		o.OnEntry(e)
	}
}

func (c *Controller) endRun() {
	if len(c.observers) == 0 {
		return
	}

	run := RunSummary{
		ID:        c.runID,
		StartedAt: c.startedAt,
		EndedAt:   c.clock.Now(),
		Status:    c.state.Status(),
		Position:  c.position,
		Total:     len(c.cfg.Recipients),
		Config:    c.cfg.normalized(),
		Entries:   c.log.Entries(),
	}
	for _, o := range c.observers {
		o.OnRunEnd(run)
	}
}

func (c *Controller) progress() Progress {
	p := Progress{
		RunID:    c.runID,
		State:    c.state,
		Status:   c.state.Status(),
		Phase:    c.state.Phase(),
		Position: c.position,
		Total:    len(c.cfg.Recipients),
	}
	if c.state.Active() && c.position < len(c.cfg.Recipients) {
		p.Recipient = c.cfg.Recipients[c.position]
	}
	if c.armed != slotNone {
		p.Armed = c.armed.String()
	}
	return p
}
