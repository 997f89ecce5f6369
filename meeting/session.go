package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/meetingflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State 会话生命周期状态。
type State int32

const (
	// StateCreated 已创建，转写尚未启动（或启动失败，处于降级状态）。
	StateCreated State = iota
	// StateActive 转写已启动。
	StateActive
	// StateClosed 已关闭，不再产生任何广播。
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config 会话参数。
type Config struct {
	VerificationWindow  time.Duration
	ConfidenceThreshold float64
	ChunkSamples        int
	InboxSize           int
	OutboxSize          int
	SideEffectTimeout   time.Duration
	SendTimeout         time.Duration
	// WelcomeTemplate 欢迎语模板，%s 为展示名。
	WelcomeTemplate string
}

// DefaultConfig 返回默认会话参数。
func DefaultConfig() Config {
	return Config{
		VerificationWindow:  DefaultVerificationWindow,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ChunkSamples:        DefaultChunkSamples,
		InboxSize:           64,
		OutboxSize:          256,
		SideEffectTimeout:   15 * time.Second,
		SendTimeout:         5 * time.Second,
		WelcomeTemplate:     "Welcome, %s. Your attendance has been marked.",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VerificationWindow <= 0 {
		c.VerificationWindow = d.VerificationWindow
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = d.ChunkSamples
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.SideEffectTimeout <= 0 {
		c.SideEffectTimeout = d.SideEffectTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.WelcomeTemplate == "" {
		c.WelcomeTemplate = d.WelcomeTemplate
	}
	return c
}

// Dependencies 会话的外部协作方。
// 除 Transcriber 外均可为 nil，对应能力关闭：
// 没有 Verifier 就没有身份解析，没有 Attendance 则出勤只保存在内存中。
type Dependencies struct {
	Transcriber TranscriptEngine
	Verifier    VerificationEngine
	Profiles    ProfileStore
	Attendance  AttendanceRecorder
	Synthesizer Synthesizer
	Intent      IntentExtractor
	Dispatcher  Dispatcher
	Recorder    Recorder
	Clock       Clock
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Dispatcher == nil {
		d.Dispatcher = goDispatcher{}
	}
	if d.Recorder == nil {
		d.Recorder = noopRecorder{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	return d
}

const (
	taskRecognize  = "recognize"
	taskAttendance = "attendance"
	taskWelcome    = "welcome_tts"
	taskIntent     = "intent"
)

type verification struct {
	profile Profile
	score   float64
}

type outbound struct {
	evt    Event
	direct bool
}

// Snapshot 是会话状态的只读副本。
type Snapshot struct {
	ID        string           `json:"id"`
	Group     string           `json:"group"`
	State     string           `json:"state"`
	StartedAt time.Time        `json:"startedAt"`
	Bindings  []SpeakerBinding `json:"bindings"`
	Attendees []Identity       `json:"attendees"`
	Ambient   *AmbientSignal   `json:"ambient,omitempty"`
}

// Session 是一个参与者连接对应的会议会话。
//
// 所有对 TagRegistry、BindingTable、AttendanceGate 的读写都发生在 Run 的事件循环里；
// 外部 I/O（识别、查档、出勤写入、语音合成、意图解析）通过 Dispatcher 异步执行，
// 结果经通道回到事件循环，或在确认会话仍存活后直接发布。
type Session struct {
	id        string
	cfg       Config
	deps      Dependencies
	logger    *zap.Logger
	clock     Clock
	recorder  Recorder
	startedAt time.Time

	group *Group
	self  Participant

	// 仅事件循环访问
	tags       *TagRegistry
	bindings   *BindingTable
	reconciler *Reconciler
	gate       *AttendanceGate
	confidence ConfidenceGate

	streamMu sync.RWMutex
	stream   TranscriptStream

	chunkMu sync.Mutex
	chunker *pcmChunker

	verified chan verification
	queries  chan func()
	outbox   chan outbound

	state      atomic.Int32
	running    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	closeHooks []func(*Session)
}

// NewSession 创建会话。self 须已加入 group（见 Hub.Join），会话关闭时离开。
// 会话在调用 Run 之后才开始处理事件。
func NewSession(parent context.Context, group *Group, self Participant, cfg Config, deps Dependencies, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(zap.String("session_id", id), zap.String("group", group.Name())),
		clock:      deps.Clock,
		recorder:   deps.Recorder,
		startedAt:  deps.Clock.Now(),
		group:      group,
		self:       self,
		tags:       NewTagRegistry(),
		bindings:   NewBindingTable(),
		gate:       NewAttendanceGate(),
		confidence: ConfidenceGate{Threshold: cfg.ConfidenceThreshold},
		chunker:    newPCMChunker(cfg.ChunkSamples),
		verified:   make(chan verification, cfg.InboxSize),
		queries:    make(chan func()),
		outbox:     make(chan outbound, cfg.OutboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.reconciler = NewReconciler(s.tags, s.bindings, cfg.VerificationWindow,
		WithReconcilerLogger(s.logger),
		WithBindingListener(s.onBindingsChanged),
	)

	s.recorder.SessionOpened()
	s.logger.Info("session created")
	return s
}

// ID 返回会话 ID。
func (s *Session) ID() string { return s.id }

// GroupName 返回所在广播组名。
func (s *Session) GroupName() string { return s.group.Name() }

// State 返回当前状态。
func (s *Session) State() State { return State(s.state.Load()) }

// StartedAt 返回创建时间。
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done 在会话结束后关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// =============================================================================
// 🔄 事件循环
// =============================================================================

// Run 启动转写并运行事件循环，直到会话关闭。
func (s *Session) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)

	if s.State() == StateClosed {
		return types.ErrClosed
	}

	go s.drainOutbox()
	events := s.startTranscriber()

	for {
		select {
		case <-s.ctx.Done():
			s.teardown("disconnect")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("transcript stream ended")
				s.teardown("transcriber closed")
				return nil
			}
			s.handleTranscript(ev)
		case v := <-s.verified:
			s.applyVerification(v)
		case q := <-s.queries:
			q()
		}
	}
}

// Close 关闭会话，可重复调用。Run 运行中时会等待事件循环完成清理。
func (s *Session) Close() {
	s.cancel()
	if s.running.Load() {
		<-s.done
		return
	}
	s.teardown("closed before start")
}

func (s *Session) startTranscriber() <-chan TranscriptEvent {
	if s.deps.Transcriber == nil {
		s.logger.Error("no transcriber configured")
		s.publishDirect(NewErrorEvent("Transcriber failed", s.clock.Now()))
		return nil
	}

	stream, err := s.deps.Transcriber.Start(s.ctx)
	if err != nil {
		s.logger.Error("failed to start transcriber", zap.Error(err))
		s.publishDirect(NewErrorEvent("Transcriber failed", s.clock.Now()))
		return nil
	}

	// teardown 先写入 StateClosed 再取 streamMu，这里在锁内复查
	s.streamMu.Lock()
	if s.State() == StateClosed {
		s.streamMu.Unlock()
		if err := stream.Stop(); err != nil {
			s.logger.Warn("failed to stop transcriber", zap.Error(err))
		}
		s.logger.Info("session closed while transcriber was starting")
		return nil
	}
	s.stream = stream
	s.streamMu.Unlock()

	s.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
	s.logger.Info("transcriber started")
	s.publishDirect(NewStatusEvent("Transcriber started", s.clock.Now()))
	return stream.Events()
}

func (s *Session) handleTranscript(ev TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	tag := ev.Tag
	if tag == "" {
		tag = DefaultTag
	}

	now := s.clock.Now()
	info := s.reconciler.Resolve(tag, now)
	s.recorder.TranscriptResolved(info.Resolved())

	s.logger.Debug("transcript",
		zap.String("tag", string(tag)),
		zap.String("speaker", info.Label),
		zap.Bool("mapped", info.Mapped),
	)
	s.publish(NewTranscriptEvent(info, text, now))
	s.extractIntent(info, text)
}

func (s *Session) applyVerification(v verification) {
	now := s.clock.Now()
	s.reconciler.OnVerification(AmbientSignal{Profile: v.profile, Score: v.score, ObservedAt: now})

	verdict := s.gate.Evaluate(v.profile.Identity, now)
	s.recorder.AttendanceEvaluated(verdict.IsFirst)
	if !verdict.IsFirst {
		return
	}

	s.logger.Info("speaker verified",
		zap.String("identity", string(v.profile.Identity)),
		zap.String("name", v.profile.DisplayName),
		zap.Float64("score", v.score),
	)
	s.publish(NewSpeakerVerifiedEvent(v.profile, v.score, now))
	s.markAttendance(v.profile, now)
}

func (s *Session) onBindingsChanged(snapshot []SpeakerBinding) {
	s.recorder.BindingsChanged(len(snapshot))
	s.publish(NewSpeakerMappingEvent(snapshot, s.clock.Now()))
}

// Snapshot 通过事件循环读取一致的会话状态。
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	query := func() {
		snap := Snapshot{
			ID:        s.id,
			Group:     s.group.Name(),
			State:     s.State().String(),
			StartedAt: s.startedAt,
			Bindings:  s.bindings.Snapshot(),
			Attendees: s.gate.Members(),
		}
		if sig, ok := s.tags.Current(); ok {
			snap.Ambient = &sig
		}
		reply <- snap
	}

	select {
	case s.queries <- query:
	case <-s.ctx.Done():
		return Snapshot{}, types.ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// =============================================================================
// 🎙️ 音频
// =============================================================================

// PushAudio 把参与者上传的 PCM 同时送往转写和声纹识别。
func (s *Session) PushAudio(pcm []byte) {
	if s.State() == StateClosed || len(pcm) == 0 {
		return
	}

	s.streamMu.RLock()
	stream := s.stream
	s.streamMu.RUnlock()
	if stream != nil {
		if err := stream.SendAudio(s.ctx, pcm); err != nil {
			s.logger.Debug("failed to forward audio to transcriber", zap.Error(err))
		}
	}

	if s.deps.Verifier == nil {
		return
	}
	s.chunkMu.Lock()
	chunk := s.chunker.Push(pcm)
	s.chunkMu.Unlock()
	if chunk != nil {
		s.recognize(chunk)
	}
}

func (s *Session) recognize(chunk []byte) {
	s.dispatch(s.ctx, taskRecognize, func(ctx context.Context) error {
		cand, err := s.deps.Verifier.Recognize(ctx, chunk)
		if err != nil {
			if types.IsTransient(err) || errors.Is(err, context.Canceled) {
				s.recorder.VerificationOutcome("suppressed")
				return nil
			}
			s.recorder.VerificationOutcome("error")
			s.logger.Warn("voice recognition failed", zap.Error(err))
			return err
		}
		if !s.confidence.Accept(cand) {
			s.recorder.VerificationOutcome("rejected")
			return nil
		}

		profile, err := s.lookupProfile(ctx, cand.Identity)
		if err != nil {
			if errors.Is(err, types.ErrProfileMissing) {
				s.recorder.VerificationOutcome("no_profile")
				s.logger.Warn("verified speaker has no profile", zap.String("identity", string(cand.Identity)))
				return nil
			}
			s.recorder.VerificationOutcome("error")
			s.logger.Error("profile lookup failed", zap.String("identity", string(cand.Identity)), zap.Error(err))
			return err
		}

		s.recorder.VerificationOutcome("accepted")
		select {
		case s.verified <- verification{profile: profile, score: cand.Score}:
		case <-s.ctx.Done():
		}
		return nil
	})
}

func (s *Session) lookupProfile(ctx context.Context, id Identity) (Profile, error) {
	if s.deps.Profiles == nil {
		return Profile{Identity: id}, nil
	}
	p, err := s.deps.Profiles.Profile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Identity == "" {
		p.Identity = id
	}
	return p, nil
}

// =============================================================================
// 📋 副作用
// =============================================================================

func (s *Session) markAttendance(p Profile, at time.Time) {
	s.dispatch(context.WithoutCancel(s.ctx), taskAttendance, func(ctx context.Context) error {
		if s.deps.Attendance != nil {
			if err := s.deps.Attendance.MarkAttendance(ctx, p.Identity, at); err != nil {
				s.logger.Error("failed to mark attendance",
					zap.String("identity", string(p.Identity)),
					zap.Error(err),
				)
				return err
			}
		}
		s.logger.Info("attendance marked", zap.String("identity", string(p.Identity)))
		s.publish(NewAttendanceMarkedEvent(p, s.clock.Now()))
		s.welcome(p)
		return nil
	})
}

func (s *Session) welcome(p Profile) {
	if s.deps.Synthesizer == nil {
		return
	}
	s.dispatch(context.WithoutCancel(s.ctx), taskWelcome, func(ctx context.Context) error {
		name := p.DisplayName
		if name == "" {
			name = "Provider"
		}
		audio, err := s.deps.Synthesizer.Synthesize(ctx, fmt.Sprintf(s.cfg.WelcomeTemplate, name))
		if err != nil {
			s.logger.Error("failed to synthesize welcome", zap.String("identity", string(p.Identity)), zap.Error(err))
			return err
		}
		s.publish(NewTTSAudioEvent(p, audio, fmt.Sprintf("Welcome, %s!", name), s.clock.Now()))
		return nil
	})
}

func (s *Session) extractIntent(info DisplayInfo, text string) {
	if s.deps.Intent == nil {
		return
	}
	s.dispatch(s.ctx, taskIntent, func(ctx context.Context) error {
		res, err := s.deps.Intent.Extract(ctx, IntentRequest{
			Text:        text,
			Identity:    info.Identity,
			DisplayName: info.Label,
			ImageRef:    info.ImageRef,
		})
		if err != nil {
			if errors.Is(err, types.ErrUnconfigured) || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("intent extraction failed", zap.Error(err))
			return err
		}
		if res == nil {
			return nil
		}
		switch res.Kind {
		case IntentFunctionCall:
			s.logger.Info("function call detected", zap.String("function", res.Name), zap.String("speaker", info.Label))
			s.publish(NewFunctionCallEvent(res, info, s.clock.Now()))
		case IntentAIResponse:
			s.publish(NewAIResponseEvent(res, info, s.clock.Now()))
		}
		return nil
	})
}

func (s *Session) dispatch(ctx context.Context, kind string, task func(ctx context.Context) error) {
	err := s.deps.Dispatcher.Dispatch(ctx, kind, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.SideEffectTimeout)
		defer cancel()

		start := time.Now()
		err := task(ctx)
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.recorder.SideEffect(kind, status, time.Since(start))
		return err
	})
	if err != nil {
		s.recorder.SideEffect(kind, "rejected", 0)
		s.logger.Warn("side effect rejected", zap.String("kind", kind), zap.Error(err))
	}
}

// =============================================================================
// 📤 出站
// =============================================================================

func (s *Session) publish(evt Event) {
	s.enqueue(outbound{evt: evt})
}

func (s *Session) publishDirect(evt Event) {
	s.enqueue(outbound{evt: evt, direct: true})
}

func (s *Session) enqueue(m outbound) {
	if s.State() == StateClosed {
		s.logger.Debug("dropping event for closed session", zap.String("type", string(m.evt.Type)))
		return
	}
	select {
	case s.outbox <- m:
	default:
		s.logger.Warn("outbox full, dropping event", zap.String("type", string(m.evt.Type)))
	}
}

func (s *Session) drainOutbox() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.outbox:
			if s.State() == StateClosed {
				continue
			}
			if m.direct {
				s.sendDirect(m.evt)
				continue
			}
			s.group.Broadcast(s.ctx, m.evt)
		}
	}
}

func (s *Session) sendDirect(evt Event) {
	if s.self == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.self.Send(ctx, data); err != nil {
		s.logger.Debug("direct send failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

// =============================================================================
// 🧹 清理
// =============================================================================

func (s *Session) addCloseHook(fn func(*Session)) {
	s.closeHooks = append(s.closeHooks, fn)
}

func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()

		s.streamMu.Lock()
		stream := s.stream
		s.stream = nil
		s.streamMu.Unlock()
		if stream != nil {
			if err := stream.Stop(); err != nil {
				s.logger.Warn("failed to stop transcriber", zap.Error(err))
			}
		}

		s.logger.Info("session closed",
			zap.String("reason", reason),
			zap.Any("bindings", s.bindings.Snapshot()),
			zap.Any("attendees", s.gate.Members()),
		)

		if s.self != nil {
			s.group.Leave(s.self.ID())
		}
		s.tags.Clear()
		s.bindings.Clear()
		s.gate.Clear()
		s.chunkMu.Lock()
		s.chunker.Reset()
		s.chunkMu.Unlock()

		s.recorder.SessionClosed(s.clock.Now().Sub(s.startedAt))
		for _, fn := range s.closeHooks {
			fn(s)
		}
	})
}
