package hal

import (
	"time"
)

// Completion is a re-armable one-shot wake up.
type Completion struct {
	done chan struct{}
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{}, 1)}
}

// Reinit drops a completion that was signalled before anybody waited.
func (c *Completion) Reinit() {
	select {
	case <-c.done:
	default:
	}
}

// Complete wakes one waiter, or the next one if nobody waits yet.
func (c *Completion) Complete() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// Wait blocks until Complete or timeout. It reports false on timeout.
func (c *Completion) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-c.done:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return true
	case <-t.C:
		return false
	}
}

// TransactionToken guards one wired APDU exchange with the secure element.
// It is not re-entrant.
type TransactionToken struct {
	sem chan struct{}
}

func NewTransactionToken() *TransactionToken {
	return &TransactionToken{sem: make(chan struct{}, 1)}
}

// Acquire takes the token, waiting at most timeout for the current holder.
func (t *TransactionToken) Acquire(timeout time.Duration) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	default:
	}
	if timeout <= 0 {
		return NewBusyError("ese transaction token held")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return NewBusyError("timed out waiting for ese transaction token")
	}
}

// Release gives the token back. Releasing a free token is a no-op.
func (t *TransactionToken) Release() {
	select {
	case <-t.sem:
	default:
	}
}

// Held reports whether somebody holds the token.
func (t *TransactionToken) Held() bool {
	return len(t.sem) == 1
}
