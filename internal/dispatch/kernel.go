package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okline/relay/internal/bus"
	"github.com/okline/relay/internal/queue"
	logpkg "github.com/okline/relay/pkg/log"
)

// Queue names owned by the kernel.
const (
	QueueIncoming = "incoming"
	QueueOutgoing = "outgoing"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultDrainTimeout = 30 * time.Second
	drainPollInterval   = 20 * time.Millisecond
)

// Config carries the kernel's tunables.
type Config struct {
	// MaxQueueDepth caps the pending depth of the incoming queue; messages
	// arriving above the cap are dropped. <=0 means unbounded.
	MaxQueueDepth int
	// PollInterval is the idle back-off between empty dequeue attempts.
	PollInterval time.Duration
	// DrainTimeout bounds how long Shutdown waits for in-flight work.
	DrainTimeout time.Duration
	// IngestFilter is an optional CEL expression; messages it rejects are
	// dropped at admission.
	IngestFilter string
}

type kernelState int

const (
	stateStopped kernelState = iota
	stateRunning
	stateDraining
)

func (s kernelState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Kernel moves messages between the input, the durable queues, the agent,
// and the outputs. All collaborators are injected; the kernel holds no
// global state.
type Kernel struct {
	store   *queue.Store
	agent   bus.Agent
	input   bus.Input
	outputs map[string]bus.Output
	cfg     Config
	logger  logpkg.Logger
	filter  ingestFilter

	mu       sync.Mutex
	state    kernelState
	inflight map[string]struct{}
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New wires a kernel from its collaborators. The incoming and outgoing
// queues are registered here so depths are seeded before the first message
// arrives.
func New(store *queue.Store, agent bus.Agent, input bus.Input, outputs map[string]bus.Output, cfg Config, logger logpkg.Logger) (*Kernel, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	filter, err := newIngestFilter(cfg.IngestFilter)
	if err != nil {
		return nil, fmt.Errorf("compile ingest filter: %w", err)
	}
	if err := store.Register(QueueIncoming); err != nil {
		return nil, err
	}
	if err := store.Register(QueueOutgoing); err != nil {
		return nil, err
	}
	return &Kernel{
		store:    store,
		agent:    agent,
		input:    input,
		outputs:  outputs,
		cfg:      cfg,
		logger:   logger.WithComponent("dispatch"),
		filter:   filter,
		inflight: make(map[string]struct{}),
	}, nil
}

// Run starts the collaborators and the three kernel loops. It returns once
// everything is started; use Shutdown to stop.
func (k *Kernel) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.state != stateStopped {
		k.mu.Unlock()
		return fmt.Errorf("kernel already %s", k.state)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	k.state = stateRunning
	k.cancel = cancel
	k.mu.Unlock()

	// Agent and outputs come up before the input so the first admitted
	// message finds the downstream side ready.
	if err := k.agent.Start(ctx); err != nil {
		cancel()
		k.setState(stateStopped)
		return fmt.Errorf("start agent: %w", err)
	}
	for source, out := range k.outputs {
		if err := out.Start(ctx); err != nil {
			cancel()
			k.setState(stateStopped)
			return fmt.Errorf("start output %s: %w", source, err)
		}
	}
	if err := k.input.Start(ctx); err != nil {
		cancel()
		k.setState(stateStopped)
		return fmt.Errorf("start input: %w", err)
	}

	k.wg.Add(3)
	go k.admissionLoop(loopCtx)
	go k.ingestLoop(loopCtx)
	go k.deliverLoop(loopCtx)

	k.logger.Info("kernel started",
		logpkg.Int("max_queue_depth", k.cfg.MaxQueueDepth),
		logpkg.Str("poll_interval", k.cfg.PollInterval.String()))
	return nil
}

func (k *Kernel) setState(s kernelState) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

func (k *Kernel) currentState() kernelState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// admissionLoop drains the input channel until the input closes it.
func (k *Kernel) admissionLoop(ctx context.Context) {
	defer k.wg.Done()
	for msg := range k.input.Messages() {
		k.admit(ctx, msg)
	}
}

// admit applies the admission gates in order: kernel state, validation,
// depth cap, ingest filter. Rejected messages are dropped, never queued.
func (k *Kernel) admit(ctx context.Context, msg bus.Message) {
	if k.currentState() != stateRunning {
		return
	}
	if err := bus.Validate(msg); err != nil {
		k.logger.Warn("message rejected", logpkg.Str("source", msg.Source), logpkg.Err(err))
		return
	}
	if k.cfg.MaxQueueDepth > 0 && k.store.Depth(QueueIncoming) >= k.cfg.MaxQueueDepth {
		k.logger.Warn("incoming queue full, dropping message",
			logpkg.Str("id", msg.ID), logpkg.Int("max_depth", k.cfg.MaxQueueDepth))
		return
	}
	if !k.filter.Admit(msg) {
		k.logger.Debug("message filtered", logpkg.Str("id", msg.ID))
		return
	}
	if _, err := k.store.Enqueue(ctx, QueueIncoming, msg); err != nil {
		k.logger.Error("enqueue incoming failed", logpkg.Str("id", msg.ID), logpkg.Err(err))
	}
}

// ingestLoop pulls incoming items, runs them through the agent, and queues
// replies. The item is always completed; a failed agent call is logged and
// the message is dropped.
func (k *Kernel) ingestLoop(ctx context.Context) {
	defer k.wg.Done()
	for {
		item, err := k.store.Dequeue(ctx, QueueIncoming)
		if err != nil {
			k.logger.Error("dequeue incoming failed", logpkg.Err(err))
		}
		if item == nil {
			if !k.idle(ctx) {
				return
			}
			continue
		}
		k.processIncoming(ctx, item)
	}
}

func (k *Kernel) processIncoming(ctx context.Context, item *queue.Item) {
	k.trackInflight(item.ID)
	defer k.clearInflight(item.ID)
	defer func() {
		if err := k.store.Complete(ctx, QueueIncoming, item.ID); err != nil {
			k.logger.Error("complete incoming failed", logpkg.Str("id", item.ID), logpkg.Err(err))
		}
	}()

	var msg bus.Message
	if err := item.Decode(&msg); err != nil {
		k.logger.Error("undecodable incoming item", logpkg.Str("id", item.ID), logpkg.Err(err))
		return
	}
	reply, err := k.agent.Process(ctx, msg)
	if err != nil {
		k.logger.Error("agent processing failed",
			logpkg.Str("id", msg.ID), logpkg.Str("channel", msg.ChannelID), logpkg.Err(err))
		return
	}
	resp := bus.NewResponse(msg, reply)
	if _, err := k.store.Enqueue(ctx, QueueOutgoing, resp); err != nil {
		k.logger.Error("enqueue outgoing failed", logpkg.Str("id", msg.ID), logpkg.Err(err))
	}
}

// deliverLoop pulls outgoing items and hands them to the output matching the
// response source. Missing outputs and send failures complete the item
// anyway; nothing is ever left stuck in processing.
func (k *Kernel) deliverLoop(ctx context.Context) {
	defer k.wg.Done()
	for {
		item, err := k.store.Dequeue(ctx, QueueOutgoing)
		if err != nil {
			k.logger.Error("dequeue outgoing failed", logpkg.Err(err))
		}
		if item == nil {
			if !k.idle(ctx) {
				return
			}
			continue
		}
		k.deliver(ctx, item)
	}
}

func (k *Kernel) deliver(ctx context.Context, item *queue.Item) {
	defer func() {
		if err := k.store.Complete(ctx, QueueOutgoing, item.ID); err != nil {
			k.logger.Error("complete outgoing failed", logpkg.Str("id", item.ID), logpkg.Err(err))
		}
	}()

	var resp bus.Response
	if err := item.Decode(&resp); err != nil {
		k.logger.Error("undecodable outgoing item", logpkg.Str("id", item.ID), logpkg.Err(err))
		return
	}
	out, ok := k.outputs[resp.Source]
	if !ok {
		k.logger.Warn("no output for source", logpkg.Str("source", resp.Source), logpkg.Str("id", resp.ID))
		return
	}
	if err := out.Send(ctx, resp); err != nil {
		k.logger.Error("send failed",
			logpkg.Str("source", resp.Source), logpkg.Str("channel", resp.ChannelID), logpkg.Err(err))
	}
}

// idle waits one poll interval; false means the loop context ended.
func (k *Kernel) idle(ctx context.Context) bool {
	t := time.NewTimer(k.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (k *Kernel) trackInflight(id string) {
	k.mu.Lock()
	k.inflight[id] = struct{}{}
	k.mu.Unlock()
}

func (k *Kernel) clearInflight(id string) {
	k.mu.Lock()
	delete(k.inflight, id)
	k.mu.Unlock()
}

func (k *Kernel) inflightCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.inflight)
}

// Shutdown drains the kernel and stops all collaborators. It is idempotent;
// calls after the first (or against a stopped kernel) return immediately.
//
// The order matters: the input stops first so no new work is admitted, then
// the kernel waits for in-flight items up to DrainTimeout, then outputs and
// agent come down.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	if k.state != stateRunning {
		k.mu.Unlock()
		return
	}
	k.state = stateDraining
	cancel := k.cancel
	k.mu.Unlock()

	k.logger.Info("kernel draining")
	if err := k.input.Stop(); err != nil {
		k.logger.Warn("input stop failed", logpkg.Err(err))
	}

	deadline := time.Now().Add(k.cfg.DrainTimeout)
	for k.inflightCount() > 0 {
		if time.Now().After(deadline) {
			k.logger.Warn("drain timeout, abandoning in-flight items",
				logpkg.Int("inflight", k.inflightCount()))
			break
		}
		time.Sleep(drainPollInterval)
	}

	cancel()
	// The loops normally exit within a poll interval of the cancel. A
	// collaborator that ignores its context must not hold shutdown hostage:
	// after the bound we walk away and leave the stuck item in processing,
	// where Recover requeues it on the next start.
	loopsDone := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-time.After(k.cfg.DrainTimeout):
		k.logger.Warn("kernel loops still blocked after drain timeout, abandoning them",
			logpkg.Int("inflight", k.inflightCount()))
	}

	for source, out := range k.outputs {
		if err := out.Stop(); err != nil {
			k.logger.Warn("output stop failed", logpkg.Str("source", source), logpkg.Err(err))
		}
	}
	if err := k.agent.Stop(); err != nil {
		k.logger.Warn("agent stop failed", logpkg.Err(err))
	}

	k.setState(stateStopped)
	k.logger.Info("kernel stopped")
}
