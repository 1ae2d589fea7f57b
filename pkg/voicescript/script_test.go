package voicescript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolver(action string) string {
	return "https://calls.example.com/api/telephony/" + action + "/abc"
}

func TestRenderListenFallsThroughToTimedOutRedirect(t *testing.T) {
	s := New(Say("What time works for you?"), Listen("turn", 6))

	xml, err := Renderer{Resolve: resolver}.Render(s)
	require.NoError(t, err)

	assert.Contains(t, xml, "<Say>What time works for you?</Say>")
	assert.Contains(t, xml, "<Gather")
	assert.Contains(t, xml, `input="speech"`)
	assert.Contains(t, xml, `timeout="6"`)
	assert.Contains(t, xml, "https://calls.example.com/api/telephony/turn/abc?timedOut=true")

	// Speech comes before the gather opens.
	assert.Less(t, strings.Index(xml, "<Say>"), strings.Index(xml, "<Gather"))
	assert.Less(t, strings.Index(xml, "<Gather"), strings.Index(xml, "<Redirect"))
}

func TestRenderHangupAndPause(t *testing.T) {
	s := New(Say("Goodbye."), Pause(1), Hangup())
	require.True(t, s.EndsInHangup())

	xml, err := Renderer{}.Render(s)
	require.NoError(t, err)
	assert.Contains(t, xml, `<Pause length="1"`)
	assert.Contains(t, xml, "<Hangup")
}

func TestRenderConnectStream(t *testing.T) {
	s := New(ConnectStream("wss://calls.example.com/api/media/abc", map[string]string{"sessionId": "abc"}), Pause(30))

	xml, err := Renderer{}.Render(s)
	require.NoError(t, err)
	assert.Contains(t, xml, "<Connect>")
	assert.Contains(t, xml, `url="wss://calls.example.com/api/media/abc"`)
	assert.Contains(t, xml, `name="sessionId"`)
	assert.Contains(t, xml, `<Pause length="30"`)
	assert.False(t, s.EndsInHangup())
}

func TestRenderEmptyScript(t *testing.T) {
	_, err := Renderer{}.Render(nil)
	assert.ErrorIs(t, err, ErrEmptyScript)
}

func TestSpoken(t *testing.T) {
	s := New(Say("One."), Listen("turn", 5), Say("Two."), Hangup())
	assert.Equal(t, []string{"One.", "Two."}, s.Spoken())
}
