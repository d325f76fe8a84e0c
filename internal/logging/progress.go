package logging

// LogFunc receives human-readable progress messages. Components accept one
// so callers can route milestones to a terminal, a job record or a test
// recorder.
type LogFunc func(msg string)

// Progress returns a LogFunc that writes each message as an info event
// tagged with component.
func Progress(component string) LogFunc {
	return func(msg string) {
		Info().Str("component", component).Msg(msg)
	}
}

// Discard drops every message.
func Discard(string) {}

// Tee fans one message out to several sinks, skipping nil ones.
func Tee(fns ...LogFunc) LogFunc {
	return func(msg string) {
		for _, fn := range fns {
			if fn != nil {
				fn(msg)
			}
		}
	}
}
