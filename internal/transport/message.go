package transport

// Current wire protocol version and the oldest version this build still
// accepts. The version is exchanged in the hello message and enforced by the
// server before any transport decision is made.
const (
	ProtocolVersion    = 1
	MinProtocolVersion = 1
)

// Discriminator values carried in the "type" field of every wire message.
const (
	TypeHello         = "hello"
	TypeHelloAck      = "hello_ack"
	TypeAuthChallenge = "auth_challenge"
	TypeAuthResponse  = "auth_response"
	TypeAuthResult    = "auth_result"
)

type Hello struct {
	Type            string `json:"type"`
	SupportsTLS     bool   `json:"supports_tls"`
	ProtocolVersion int    `json:"protocol_version"`
}

type HelloAck struct {
	Type    string `json:"type"`
	Upgrade bool   `json:"upgrade"`
	Error   string `json:"error,omitempty"`
}

// AuthChallenge carries the stored salt and iteration count so the client can
// reproduce the key derivation, plus a fresh single-use nonce. Salt and nonce
// are hex encoded.
type AuthChallenge struct {
	Type       string `json:"type"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Nonce      string `json:"nonce"`
}

type AuthResponse struct {
	Type string `json:"type"`
	HMAC string `json:"hmac"`
}

type AuthResult struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}
