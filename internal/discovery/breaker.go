package discovery

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open
var ErrCircuitOpen = errors.New("search provider circuit open")

// CircuitBreaker stops calling the search provider after consecutive
// blocking answers (bad key, no credits, rate limited). Other failures do
// not count.
type CircuitBreaker struct {
	next             Searcher
	failureThreshold int
	resetTimeout     time.Duration

	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time
	mutex               sync.Mutex

	now func() time.Time
}

// NewCircuitBreaker wraps a searcher. A threshold <= 0 disables the breaker.
func NewCircuitBreaker(next Searcher, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		next:             next,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Search forwards the query unless the breaker is open
func (cb *CircuitBreaker) Search(ctx context.Context, q Query) ([]Item, error) {
	if !cb.CanProceed() {
		return nil, ErrCircuitOpen
	}

	items, err := cb.next.Search(ctx, q)
	if err != nil {
		cb.RecordFailure(err)
		return nil, err
	}
	cb.RecordSuccess()
	return items, nil
}

// RecordSuccess resets the consecutive failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.consecutiveFailures = 0
}

// RecordFailure counts blocking provider errors and opens the breaker at
// the threshold
func (cb *CircuitBreaker) RecordFailure(err error) {
	var perr *ProviderError
	if !errors.As(err, &perr) || !isBlocking(perr.StatusCode) {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	if cb.failureThreshold > 0 && cb.consecutiveFailures >= cb.failureThreshold && !cb.isOpen {
		cb.isOpen = true
		log.Printf("[Discovery] Circuit breaker open: %d consecutive %d errors, pausing searches for %v",
			cb.consecutiveFailures, perr.StatusCode, cb.resetTimeout)
	}
}

// CanProceed checks if requests are allowed
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
		log.Printf("[Discovery] Circuit breaker half-open after %v", cb.resetTimeout)
		cb.isOpen = false
		cb.consecutiveFailures = 0
		return true
	}
	return false
}

// IsOpen reports the breaker state
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.isOpen
}

func isBlocking(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}
