package timeline

import (
	"time"

	"github.com/yubzen/phonepilot/internal/stream"
)

// Signal reports what a frame means for the run beyond the step timeline.
type Signal struct {
	// Terminal is completed, error or stopped when the frame ends the run.
	Terminal stream.Kind
	// Message is the terminal or takeover text with defaults applied.
	Message string
	// OrphanAction is set when an action frame arrived with no open step.
	OrphanAction bool
}

// Reduce applies one frame to s and returns the new state. s is not
// modified; step slices are copied before any write.
func Reduce(s State, f stream.Frame, at time.Time) (State, Signal) {
	switch f.Kind {
	case stream.KindReady:
		s.Ready = true
		return s, Signal{}

	case stream.KindThinking:
		p, _ := f.Payload.(stream.ThinkingPayload)
		return reduceThinking(s, p, at), Signal{}

	case stream.KindAction:
		p, _ := f.Payload.(stream.ActionPayload)
		if _, ok := s.OpenStep(); !ok {
			return s, Signal{OrphanAction: true}
		}
		steps := cloneSteps(s.Steps)
		step := &steps[s.Open]
		step.Action = cloneAction(Action(p.Action))
		step.ActionDuration = cloneFloat(p.Duration)
		step.Status = StatusCompleted
		s.Steps = steps
		s.Open = -1
		return s, Signal{}

	case stream.KindScreenshot:
		p, _ := f.Payload.(stream.ScreenshotPayload)
		s.Screenshot = &Screenshot{Base64: p.Base64, Width: p.Width, Height: p.Height, At: at}
		return s, Signal{}

	case stream.KindTakeover:
		p, _ := f.Payload.(stream.MessagePayload)
		s.Takeover = Takeover{Active: true, Message: p.Text("")}
		return s, Signal{Message: s.Takeover.Message}

	case stream.KindCompleted:
		p, _ := f.Payload.(stream.MessagePayload)
		return s, Signal{Terminal: stream.KindCompleted, Message: p.Text(TextCompleted)}

	case stream.KindStopped:
		p, _ := f.Payload.(stream.MessagePayload)
		return s, Signal{Terminal: stream.KindStopped, Message: p.Text(TextStopped)}

	case stream.KindError:
		p, _ := f.Payload.(stream.MessagePayload)
		return s, Signal{Terminal: stream.KindError, Message: p.Text(TextFailed)}
	}
	return s, Signal{}
}

func reduceThinking(s State, p stream.ThinkingPayload, at time.Time) State {
	steps := cloneSteps(s.Steps)
	if _, ok := s.OpenStep(); ok {
		step := &steps[s.Open]
		if p.Full != nil {
			step.Thinking = *p.Full
		} else {
			step.Thinking += p.Chunk
		}
		if p.Duration != nil {
			step.ThinkingDuration = cloneFloat(p.Duration)
		}
		s.Steps = steps
		return s
	}

	text := p.Chunk
	if p.Full != nil {
		text = *p.Full
	}
	n := len(steps) + 1
	steps = append(steps, Step{
		ID:               stepID(s.MessageID, n),
		StepNumber:       n,
		Thinking:         text,
		ThinkingDuration: cloneFloat(p.Duration),
		Status:           StatusThinking,
		Timestamp:        at,
	})
	s.Steps = steps
	s.Open = len(steps) - 1
	return s
}
