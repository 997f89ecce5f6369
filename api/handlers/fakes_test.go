package handlers

import (
	"context"
	"sync"

	"github.com/BaSui01/meetingflow/meeting"
)

// stubStream 记录收到的音频并允许注入转写事件
type stubStream struct {
	events chan meeting.TranscriptEvent

	mu      sync.Mutex
	audio   int
	stopped bool
}

func (s *stubStream) Events() <-chan meeting.TranscriptEvent { return s.events }

func (s *stubStream) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	s.audio += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *stubStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *stubStream) audioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *stubStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type stubEngine struct {
	stream *stubStream
}

func newStubEngine() *stubEngine {
	return &stubEngine{stream: &stubStream{events: make(chan meeting.TranscriptEvent, 8)}}
}

func (e *stubEngine) Start(context.Context) (meeting.TranscriptStream, error) {
	return e.stream, nil
}

type stubSynth struct {
	audio []byte
	err   error

	mu    sync.Mutex
	texts []string
}

func (s *stubSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return s.audio, s.err
}

type broadcastCall struct {
	group string
	evt   meeting.Event
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, group string, evt meeting.Event) meeting.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{group: group, evt: evt})
	return meeting.Delivery{Sent: 2}
}
