package conversation

import (
	"time"

	"golang.org/x/time/rate"

	"chat-client/internal/models"
)

type typingState struct {
	limiter *rate.Limiter
	active  bool
	timer   *time.Timer
}

func (t *typingState) reset() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
}

// Typing reports local typing activity to the friend. Repeated activity is
// throttled and an idle period ends the indicator automatically. It returns
// false when the channel is unavailable.
func (c *Controller) Typing(active bool) (bool, error) {
	gen, _, ch, _, err := c.current()
	if err != nil {
		return false, err
	}
	if ch == nil || !ch.Connected() {
		return false, nil
	}

	if !active {
		return c.stopTyping(ch), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false, nil
	}
	if c.typing.timer != nil {
		c.typing.timer.Stop()
	}
	c.typing.timer = time.AfterFunc(c.opts.TypingIdle, func() {
		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if current {
			c.stopTyping(ch)
		}
	})

	if c.typing.active && !c.typing.limiter.Allow() {
		return true, nil
	}
	if !c.typing.active {
		// Consume the token so the next refresh waits a full period.
		c.typing.limiter.Allow()
	}
	c.typing.active = ch.Send(models.OutgoingTyping{Type: models.EventTyping, IsTyping: true})
	return c.typing.active, nil
}

// stopTyping ends the indicator if it is on.
func (c *Controller) stopTyping(ch Channel) bool {
	c.mu.Lock()
	wasActive := c.typing.active
	c.typing.reset()
	c.mu.Unlock()
	if !wasActive || ch == nil {
		return false
	}
	return ch.Send(models.OutgoingTyping{Type: models.EventTyping, IsTyping: false})
}
