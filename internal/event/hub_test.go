package event

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublish(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	e := echo.New()
	hub.RegisterHandlers(e.Group("/api/event"))
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/event/"+TopicNotes, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(TopicImports, "ignored", map[string]string{"x": "y"})
	hub.Publish(TopicNotes, "note_saved", map[string]string{"id": "n1"})

	// read up to the end of the first block carrying data
	var lines []string
	seenData := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && seenData {
			break
		}
		seenData = seenData || strings.HasPrefix(line, "data:")
		lines = append(lines, line)
	}

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "event: note_saved")
	assert.Contains(t, joined, `data: {"id":"n1"}`)
	assert.NotContains(t, joined, "ignored")
}

func TestHubCloseTwice(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Close()

	done := make(chan struct{})
	go func() {
		hub.Publish(TopicNotes, "note_saved", map[string]string{"id": "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after close")
	}
}
