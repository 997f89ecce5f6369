package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/meetingflow/internal/circuitbreaker"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// OpenAITTS
// ---------------------------------------------------------------------------

func TestOpenAITTS_Synthesize(t *testing.T) {
	var got openAITTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	tts := NewOpenAITTS(TTSConfig{APIKey: "sk-test", BaseURL: srv.URL})
	audio, err := tts.Synthesize(context.Background(), "Welcome, Ada. Your attendance has been marked.")

	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
	assert.Equal(t, "tts-1", got.Model)
	assert.Equal(t, "nova", got.Voice)
	assert.Equal(t, "mp3", got.ResponseFormat)
}

func TestOpenAITTS_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAITTS(TTSConfig{BaseURL: srv.URL}).Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, types.ErrUnconfigured)

	_, err = NewOpenAITTS(TTSConfig{APIKey: "k", BaseURL: srv.URL}).Synthesize(context.Background(), "hi")
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))

	_, err = NewOpenAITTS(TTSConfig{APIKey: "k", BaseURL: srv.URL}).Synthesize(context.Background(), "  ")
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// RecognitionClient
// ---------------------------------------------------------------------------

func recognizeServer(t *testing.T, handler func(w http.ResponseWriter, audio []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "audio.pcm", header.Filename)
		audio, _ := io.ReadAll(file)
		handler(w, audio)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecognitionClient_NumericSpeaker(t *testing.T) {
	srv := recognizeServer(t, func(w http.ResponseWriter, audio []byte) {
		assert.Len(t, audio, 4096)
		_, _ = w.Write([]byte(`{"speaker": 7, "score": 0.93}`))
	})

	c := NewRecognitionClient(RecognitionConfig{BaseURL: srv.URL}, zap.NewNop())
	cand, err := c.Recognize(context.Background(), make([]byte, 4096))

	require.NoError(t, err)
	assert.Equal(t, meeting.Identity("7"), cand.Identity)
	assert.InDelta(t, 0.93, cand.Score, 1e-9)
}

func TestRecognitionClient_UnknownSpeaker(t *testing.T) {
	srv := recognizeServer(t, func(w http.ResponseWriter, _ []byte) {
		_, _ = w.Write([]byte(`{"speaker": "Unknown", "score": 0.2}`))
	})

	cand, err := NewRecognitionClient(RecognitionConfig{BaseURL: srv.URL}, nil).Recognize(context.Background(), []byte{0, 1})
	require.NoError(t, err)
	assert.False(t, cand.Identity.Valid())
}

func TestRecognitionClient_TimeoutIsTransient(t *testing.T) {
	srv := recognizeServer(t, func(w http.ResponseWriter, _ []byte) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"speaker": 7, "score": 0.99}`))
	})

	c := NewRecognitionClient(RecognitionConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := c.Recognize(context.Background(), []byte{0, 1})

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsTransient(err))
}

func TestRecognitionClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewRecognitionClient(RecognitionConfig{BaseURL: addr}, nil).Recognize(context.Background(), []byte{0, 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsTransient(err))
}

func TestRecognitionClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := recognizeServer(t, func(w http.ResponseWriter, _ []byte) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := NewRecognitionClient(RecognitionConfig{
		BaseURL: srv.URL,
		Breaker: circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Hour},
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Recognize(context.Background(), []byte{0, 1})
		assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
		assert.False(t, types.IsTransient(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.Breaker().State())

	_, err := c.Recognize(context.Background(), []byte{0, 1})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRecognitionClient_MalformedResponse(t *testing.T) {
	srv := recognizeServer(t, func(w http.ResponseWriter, _ []byte) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := NewRecognitionClient(RecognitionConfig{BaseURL: srv.URL}, nil).Recognize(context.Background(), []byte{0, 1})
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// StreamingTranscriber
// ---------------------------------------------------------------------------

type fakeUpstream struct {
	audio  atomic.Int64
	frames []string
	auth   atomic.Value
	lang   atomic.Value
}

func (f *fakeUpstream) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.auth.Store(r.Header.Get("Authorization"))
		f.lang.Store(r.URL.Query().Get("language"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for _, frame := range f.frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.audio.Add(int64(len(data)))
			}
		}
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStreamingTranscriber_StreamsFinalTranscripts(t *testing.T) {
	up := &fakeUpstream{frames: []string{
		`{"type":"transcribed","speakerId":"Guest-2","text":"start scrum","offset":100,"duration":900}`,
		`{"type":"transcribing","speakerId":"Guest-2","text":"start"}`,
		`{"type":"transcribed","speakerId":"","text":"hello"}`,
		`{"type":"transcribed","speakerId":"Guest-3","text":"   "}`,
		`garbage`,
	}}
	srv := httptest.NewServer(up.handler(t))
	defer srv.Close()

	tr := NewStreamingTranscriber(TranscriberConfig{URL: wsURL(srv.URL), APIKey: "key"}, zap.NewNop())
	stream, err := tr.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	var got []meeting.TranscriptEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-stream.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, meeting.TranscriptEvent{Tag: "Guest-2", Text: "start scrum"}, got[0])
	assert.Equal(t, meeting.TranscriptEvent{Tag: meeting.DefaultTag, Text: "hello"}, got[1])
	assert.Equal(t, "Bearer key", up.auth.Load())
	assert.Equal(t, "en-US", up.lang.Load())

	require.NoError(t, stream.SendAudio(context.Background(), make([]byte, 320)))
	require.Eventually(t, func() bool { return up.audio.Load() == 320 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, stream.Stop())
	require.NoError(t, stream.Stop())
	assert.ErrorIs(t, stream.SendAudio(context.Background(), []byte{0, 1}), types.ErrClosed)
}

func TestStreamingTranscriber_EventsCloseOnUpstreamTeardown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()

	stream, err := NewStreamingTranscriber(TranscriberConfig{URL: wsURL(srv.URL)}, nil).Start(context.Background())
	require.NoError(t, err)

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestStreamingTranscriber_StartFailures(t *testing.T) {
	_, err := NewStreamingTranscriber(TranscriberConfig{}, nil).Start(context.Background())
	assert.ErrorIs(t, err, types.ErrUnconfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err = NewStreamingTranscriber(TranscriberConfig{URL: wsURL(srv.URL)}, nil).Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrTranscriberFailed, types.GetErrorCode(err))
	assert.False(t, errors.Is(err, types.ErrUnconfigured))
}
