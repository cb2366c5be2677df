package future

type (
	// Waker schedules the owner of a pending future to poll it again.
	// Wake must be safe to call from any goroutine, any number of times.
	Waker interface {
		Wake()
	}

	// WakerFunc adapts a function to a [Waker].
	WakerFunc func()

	// Context is passed to [Future.Poll].
	Context struct {
		waker Waker
	}

	noopWaker struct{}
)

// NoopWaker is a [Waker] that does nothing.
var NoopWaker Waker = noopWaker{}

func (f WakerFunc) Wake() { f() }

func (noopWaker) Wake() {}

// NewContext returns a context that will wake w. A nil w behaves like
// [NoopWaker].
func NewContext(w Waker) *Context {
	return &Context{waker: w}
}

// Waker returns the waker to store when returning pending.
func (cx *Context) Waker() Waker {
	if cx == nil || cx.waker == nil {
		return NoopWaker
	}
	return cx.waker
}
