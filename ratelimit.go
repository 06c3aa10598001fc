package coro

import "github.com/joeycumines/go-catrate"

// AcceptLimiter returns the go-catrate limiter installed via
// WithAcceptRateLimit, or nil if none was configured. Listener Accept calls
// draw from it through AllowAccept; happy-eyeballs dialing draws from it
// only when this limiter is passed as DialHappyEyeballs' limiter argument,
// in which case inbound and outbound bursts share one budget.
func (s *Scheduler) AcceptLimiter() *catrate.Limiter {
	return s.cfg.acceptLimit
}

// AllowAccept consults the scheduler's configured accept-rate limiter, if
// any, for category. It returns ErrOverload when the limiter denies the
// request; a nil limiter always allows. Listeners call this once per Accept,
// before committing any syscall work; dialing does not call it.
func (s *Scheduler) AllowAccept(category string) error {
	lim := s.cfg.acceptLimit
	if lim == nil {
		return nil
	}
	if _, ok := lim.Allow(category); !ok {
		return ErrOverload
	}
	return nil
}
