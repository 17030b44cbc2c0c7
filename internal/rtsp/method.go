package rtsp

type Method string

const (
	MethodOptions      Method = "OPTIONS"
	MethodDescribe     Method = "DESCRIBE"
	MethodSetup        Method = "SETUP"
	MethodTeardown     Method = "TEARDOWN"
	MethodPlay         Method = "PLAY"
	MethodPause        Method = "PAUSE"
	MethodGetParameter Method = "GET_PARAMETER"
)

// publicMethods is the OPTIONS reply, in the order clients expect it.
var publicMethods = []Method{
	MethodOptions,
	MethodDescribe,
	MethodSetup,
	MethodTeardown,
	MethodPlay,
	MethodPause,
}

func (m Method) String() string {
	return string(m)
}
