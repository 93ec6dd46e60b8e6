package chat

import "github.com/google/uuid"

// Subscribe returns a channel that receives the latest snapshot after every
// state change. Slow readers only ever see the newest snapshot.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	id := uuid.New()
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
	}
}

func (c *Controller) notifyLocked() {
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
