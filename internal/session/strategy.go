package session

// Strategy is the set of lifecycle hooks a trading strategy implements.
//
// Initialize runs once at the start of a fresh run; the remaining hooks fire
// at their configured times on each trading day. Embed BaseStrategy to only
// implement the hooks you need.
type Strategy interface {
	Initialize(s *Session) error
	BeforeTrading(s *Session) error
	HandleBar(s *Session) error
	AfterTrading(s *Session) error
	BrokerSettle(s *Session) error
	OnEnd(s *Session) error
}

// BaseStrategy provides no-op implementations of every hook.
type BaseStrategy struct{}

func (BaseStrategy) Initialize(*Session) error    { return nil }
func (BaseStrategy) BeforeTrading(*Session) error { return nil }
func (BaseStrategy) HandleBar(*Session) error     { return nil }
func (BaseStrategy) AfterTrading(*Session) error  { return nil }
func (BaseStrategy) BrokerSettle(*Session) error  { return nil }
func (BaseStrategy) OnEnd(*Session) error         { return nil }
