package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

const countersKey = "outbound_counters"

type counters struct {
	sent  atomic.Int32
	edits atomic.Int32
}

// countingAPI wraps the API handle to count messages sent while handling an update.
type countingAPI struct {
	dispatch.API
	n *counters
}

func (a countingAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	msg, err := a.API.Send(to, what, opts...)
	if err == nil {
		a.n.sent.Add(1)
	}
	return msg, err
}

func (a countingAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	out, err := a.API.Edit(msg, what, opts...)
	if err == nil {
		a.n.edits.Add(1)
	}
	return out, err
}

// MessageMetrics counts successful sends and edits made through c.API();
// Logger reports them in the update summary.
func MessageMetrics(next dispatch.UpdateFunc) dispatch.UpdateFunc {
	return func(c *dispatch.Context) error {
		if c.API() == nil {
			return next(c)
		}
		n := &counters{}
		c.Set(countersKey, n)
		return next(c.WithAPI(countingAPI{API: c.API(), n: n}))
	}
}

// Counters returns how many messages were sent and edited for c's update.
func Counters(c *dispatch.Context) (int, int) {
	n, ok := c.Get(countersKey).(*counters)
	if !ok {
		return 0, 0
	}
	return int(n.sent.Load()), int(n.edits.Load())
}
