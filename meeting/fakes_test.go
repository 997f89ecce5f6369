package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/meetingflow/types"
)

// manualClock 可手动推进的时钟。
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// inlineDispatcher 在调用方 goroutine 中同步执行任务。
type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(ctx context.Context, _ string, task func(ctx context.Context) error) error {
	_ = task(ctx)
	return nil
}

// recordingParticipant 记录收到的所有消息。
type recordingParticipant struct {
	id   string
	fail bool

	mu       sync.Mutex
	messages []map[string]any
}

func newParticipant(id string) *recordingParticipant {
	return &recordingParticipant{id: id}
}

func (p *recordingParticipant) ID() string { return p.id }

func (p *recordingParticipant) Send(_ context.Context, data []byte) error {
	if p.fail {
		return errors.New("connection closed")
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	return nil
}

func (p *recordingParticipant) ofType(typ EventType) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]any
	for _, m := range p.messages {
		if m["type"] == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingParticipant) count(typ EventType) int {
	return len(p.ofType(typ))
}

func (p *recordingParticipant) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m["type"].(string))
	}
	return out
}

// fakeStream 可注入转写事件的转写会话。
type fakeStream struct {
	events chan TranscriptEvent

	mu      sync.Mutex
	audio   int
	stopped int
}

func (s *fakeStream) Events() <-chan TranscriptEvent { return s.events }

func (s *fakeStream) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	s.audio += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeTranscriber struct {
	stream *fakeStream
	err    error
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{stream: &fakeStream{events: make(chan TranscriptEvent, 16)}}
}

func (f *fakeTranscriber) Start(context.Context) (TranscriptStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

// perSessionTranscriber 每次 Start 都返回新的转写会话，按启动顺序记录。
type perSessionTranscriber struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (f *perSessionTranscriber) Start(context.Context) (TranscriptStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{events: make(chan TranscriptEvent, 16)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *perSessionTranscriber) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

// gatedTranscriber 的 Start 在 release 关闭前阻塞。
type gatedTranscriber struct {
	stream  *fakeStream
	entered chan struct{}
	release chan struct{}
}

func newGatedTranscriber() *gatedTranscriber {
	return &gatedTranscriber{
		stream:  &fakeStream{events: make(chan TranscriptEvent, 16)},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTranscriber) Start(context.Context) (TranscriptStream, error) {
	close(g.entered)
	<-g.release
	return g.stream, nil
}

// scriptedVerifier 按顺序返回预设的识别结果。
type scriptedVerifier struct {
	mu      sync.Mutex
	results []Candidate
	err     error
	calls   int
}

func (v *scriptedVerifier) Recognize(context.Context, []byte) (Candidate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return Candidate{}, v.err
	}
	if len(v.results) == 0 {
		return Candidate{Identity: UnknownIdentity}, nil
	}
	c := v.results[0]
	v.results = v.results[1:]
	return c, nil
}

func (v *scriptedVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (v *scriptedVerifier) push(c Candidate) {
	v.mu.Lock()
	v.results = append(v.results, c)
	v.mu.Unlock()
}

type mapProfiles map[Identity]Profile

func (m mapProfiles) Profile(_ context.Context, id Identity) (Profile, error) {
	p, ok := m[id]
	if !ok {
		return Profile{}, types.NewError(types.ErrProfileNotFound, "no provider "+string(id))
	}
	return p, nil
}

type countingAttendance struct {
	mu    sync.Mutex
	marks []Identity
	err   error
	block chan struct{}
}

func (a *countingAttendance) MarkAttendance(_ context.Context, id Identity, _ time.Time) error {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.marks = append(a.marks, id)
	return nil
}

func (a *countingAttendance) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.marks)
}

type countingSynth struct {
	mu    sync.Mutex
	texts []string
}

func (s *countingSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return []byte("mp3"), nil
}

func (s *countingSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type staticIntent struct {
	result *IntentResult
	err    error
}

func (s staticIntent) Extract(context.Context, IntentRequest) (*IntentResult, error) {
	return s.result, s.err
}
