package handler

// stubMux records SetInterest/ChangeTimeout/Detach/Attach calls for
// handler-level tests that need a Mux but not a real Multiplexer.
type stubMux struct {
	interestFD             int
	interestState          bool
	read, write, except    bool
	detachedFD             int
	detached               bool
	timeoutFD              int
	timeoutOld, timeoutNew float64
	attached               []Handler
}

func (m *stubMux) SetInterest(fd int, state bool, read, write, except bool) {
	m.interestFD = fd
	m.interestState = state
	m.read, m.write, m.except = read, write, except
}

func (m *stubMux) ChangeTimeout(fd int, old, new float64) {
	m.timeoutFD = fd
	m.timeoutOld, m.timeoutNew = old, new
}

func (m *stubMux) Detach(fd int) {
	m.detachedFD = fd
	m.detached = true
}

func (m *stubMux) Attach(h Handler) error {
	m.attached = append(m.attached, h)
	return nil
}
