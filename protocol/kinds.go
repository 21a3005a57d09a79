package protocol

// Kind identifies a wire command. The set is closed: decoding an
// unrecognized kind fails.
type Kind uint8

const (
	KindStartSession Kind = iota
	KindPauseSession
	KindResumeSession
	KindStopSession
	KindBuzz
	KindDeactivate
	KindPing
	KindPong
	KindHeartbeat
)

var kindNames = [...]string{
	KindStartSession:  "START_SESSION",
	KindPauseSession:  "PAUSE_SESSION",
	KindResumeSession: "RESUME_SESSION",
	KindStopSession:   "STOP_SESSION",
	KindBuzz:          "BUZZ",
	KindDeactivate:    "DEACTIVATE",
	KindPing:          "PING",
	KindPong:          "PONG",
	KindHeartbeat:     "HEARTBEAT",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// kindByName is the decode-side lookup.
var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = Kind(k)
	}
	return m
}()

// ParseKind maps a wire name to its Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindByName[s]
	return k, ok
}
