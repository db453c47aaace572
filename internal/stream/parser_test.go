package stream

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubzen/phonepilot/internal/logger"
)

const sampleStream = "event: ready\ndata: {\"session_id\":\"s1\",\"device_id\":\"d1\"}\n\n" +
	": keep-alive\n\n" +
	"event: thinking\ndata: {\"chunk\":\"plan\",\"full\":\"plan A\"}\n\n" +
	"event: action\ndata: {\"action\":{\"action\":\"tap\",\"element\":[500,800]},\"duration\":1.5}\n\n" +
	"event: completed\ndata: {\"message\":\"done\"}\n\n"

func collect(p *Parser, chunks ...[]byte) []Frame {
	var out []Frame
	for _, c := range chunks {
		out = append(out, slices.Collect(p.Feed(c))...)
	}
	return out
}

func kinds(frames []Frame) []Kind {
	out := make([]Kind, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Kind)
	}
	return out
}

func TestParserDecodesTypedPayloads(t *testing.T) {
	t.Parallel()

	frames := collect(NewParser(logger.Nop()), []byte(sampleStream))
	require.Equal(t, []Kind{KindReady, KindThinking, KindAction, KindCompleted}, kinds(frames))

	ready := frames[0].Payload.(ReadyPayload)
	assert.Equal(t, "s1", ready.SessionID)
	assert.Equal(t, "d1", ready.DeviceID)

	thinking := frames[1].Payload.(ThinkingPayload)
	assert.Equal(t, "plan", thinking.Chunk)
	require.NotNil(t, thinking.Full)
	assert.Equal(t, "plan A", *thinking.Full)

	action := frames[2].Payload.(ActionPayload)
	assert.Equal(t, "tap", action.Action["action"])
	require.NotNil(t, action.Duration)
	assert.InDelta(t, 1.5, *action.Duration, 1e-9)

	done := frames[3].Payload.(MessagePayload)
	assert.Equal(t, "done", done.Text("fallback"))
}

func TestParserSplitAtEveryOffsetMatchesWholeInput(t *testing.T) {
	t.Parallel()

	want := collect(NewParser(logger.Nop()), []byte(sampleStream))
	input := []byte(sampleStream)
	for i := 0; i <= len(input); i++ {
		p := NewParser(logger.Nop())
		got := collect(p, input[:i], nil, input[i:])
		require.Equal(t, kinds(want), kinds(got), "split at %d", i)
		for j := range want {
			assert.JSONEq(t, string(want[j].Raw), string(got[j].Raw), "split at %d frame %d", i, j)
		}
		assert.Zero(t, p.Pending())
	}
}

func TestParserByteAtATime(t *testing.T) {
	t.Parallel()

	p := NewParser(logger.Nop())
	var got []Frame
	for i := 0; i < len(sampleStream); i++ {
		got = append(got, slices.Collect(p.Feed([]byte{sampleStream[i]}))...)
	}
	assert.Len(t, got, 4)
}

func TestParserRetainsPartialTail(t *testing.T) {
	t.Parallel()

	p := NewParser(logger.Nop())
	frames := collect(p, []byte("event: thinking\ndata: {\"chunk\":\"a\"}\n\nevent: stopped\ndata: {\"mess"))
	require.Len(t, frames, 1)
	assert.Positive(t, p.Pending())

	frames = collect(p, []byte("age\":\"bye\"}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, KindStopped, frames[0].Kind)
	assert.Zero(t, p.Pending())
}

func TestParserDropsMalformedFramesAndContinues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bad  string
	}{
		{name: "event without data", bad: "event: thinking\n\n"},
		{name: "data without event", bad: "data: {\"chunk\":\"x\"}\n\n"},
		{name: "unknown event", bad: "event: heartbeat\ndata: {}\n\n"},
		{name: "invalid json", bad: "event: thinking\ndata: {not json\n\n"},
	}

	good1 := "event: thinking\ndata: {\"full\":\"one\"}\n\n"
	good2 := "event: thinking\ndata: {\"full\":\"two\"}\n\n"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			with := collect(NewParser(logger.Nop()), []byte(good1+tt.bad+good2))
			without := collect(NewParser(logger.Nop()), []byte(good1+good2))
			assert.Equal(t, kinds(without), kinds(with))
		})
	}
}

func TestParserNormalizesCRLF(t *testing.T) {
	t.Parallel()

	input := "event: completed\r\ndata: {\"message\":\"ok\"}\r\n\r\n"
	p := NewParser(logger.Nop())
	// split inside the terminating "\r\n"
	frames := collect(p, []byte(input[:len(input)-1]), []byte(input[len(input)-1:]))
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].Payload.(MessagePayload).Text(""))
}

func TestParserJoinsMultipleDataLines(t *testing.T) {
	t.Parallel()

	input := "event: error\ndata: {\"message\":\ndata: \"boom\"}\n\n"
	frames := collect(NewParser(logger.Nop()), []byte(input))
	require.Len(t, frames, 1)
	assert.Equal(t, "boom", frames[0].Payload.(MessagePayload).Text(""))
}

func TestParserEarlyBreakKeepsRemainingFrames(t *testing.T) {
	t.Parallel()

	p := NewParser(logger.Nop())
	for f := range p.Feed([]byte(sampleStream)) {
		assert.Equal(t, KindReady, f.Kind)
		break
	}
	rest := collect(p, nil)
	assert.Equal(t, []Kind{KindThinking, KindAction, KindCompleted}, kinds(rest))
}

func TestEncodeRoundTripsThroughParser(t *testing.T) {
	t.Parallel()

	msg := "please log in"
	raw, err := Encode(KindTakeover, MessagePayload{Message: &msg})
	require.NoError(t, err)

	frames := collect(NewParser(logger.Nop()), raw, KeepAlive())
	require.Len(t, frames, 1)
	assert.Equal(t, KindTakeover, frames[0].Kind)
	assert.Equal(t, msg, frames[0].Payload.(MessagePayload).Text(""))

	_, err = Encode(Kind("bogus"), nil)
	assert.Error(t, err)
}

func TestMessagePayloadFallback(t *testing.T) {
	t.Parallel()

	empty := ""
	assert.Equal(t, "Task completed", MessagePayload{}.Text("Task completed"))
	assert.Equal(t, "Task completed", MessagePayload{Message: &empty}.Text("Task completed"))
}
