package certificate

import "time"

// SetClock replaces the service clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetCodeSource replaces the verification code generator
func (s *Service) SetCodeSource(codes func(int) (string, error)) {
	s.codes = codes
}
