package sync

// Notifier receives short-lived, non-blocking user notifications (the
// web client shows these as toasts). Implementations must not block.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(string)

func (f NotifierFunc) Notify(message string) { f(message) }
