package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranscriber(t *testing.T) {
	audio := bytes.Repeat([]byte{0xab}, 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transcribe/", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.webm", header.Filename)
		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))
		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, audio, got)

		io.WriteString(w, `{"transcription":"  hello world  "}`)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 1000, srv.Client())
	text, err := tr.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text, "transcript is trimmed")
}

func TestHTTPTranscriberRejectsShortAudio(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 1000, srv.Client())
	_, err := tr.Transcribe(context.Background(), make([]byte, 999))
	require.ErrorIs(t, err, ErrAudioTooShort)
	assert.False(t, called, "undersized audio is rejected before any network call")
}

func TestHTTPTranscriberEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"transcription":"   "}`)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 0, srv.Client())
	_, err := tr.Transcribe(context.Background(), []byte("audio"))
	require.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestHTTPTranscriberErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "whisper crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 0, srv.Client())
	_, err := tr.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "whisper crashed")
}
