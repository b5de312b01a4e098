package wallet

// Sink receives every settled snapshot, in commit order. Emit is called
// outside the machine's lock; it may read the machine but should return
// quickly because later snapshots queue behind it.
type Sink interface {
	Emit(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

// Emit calls f(s).
func (f SinkFunc) Emit(s Snapshot) { f(s) }

type multiSink []Sink

func (m multiSink) Emit(s Snapshot) {
	for _, sink := range m {
		sink.Emit(s)
	}
}

// MultiSink fans snapshots out to several sinks in order. Nil sinks are skipped.
func MultiSink(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
