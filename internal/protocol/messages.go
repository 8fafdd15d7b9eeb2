package protocol

// Method names, exactly as they appear on the wire (spec.md §6).
const (
	// Server-originated, reliable stream.
	MethodClientRegistered                 = "client_registered"
	MethodLobbyClosed                      = "lobby_closed"
	MethodLobbyPeerConnect                 = "lobby_peerConnect"
	MethodLobbyPeerDisconnect              = "lobby_peerDisconnect"
	MethodLobbyMessagingReceived           = "lobby_messaging_received"
	MethodPtpMediationSend                 = "ptpMediation_send"
	MethodPtpMediationAborted              = "ptpMediation_aborted"
	MethodPtpMediationPeersConnectionStart = "ptpMediation_peersConnection_start"
	MethodPtpMediationSuccess              = "ptpMediation_success"

	// Client-originated, reliable stream.
	MethodLobbyMessagingSend               = "lobby_messaging_send"
	MethodPtpMediationPeersConnectionSuccess = "ptpMediation_peersConnection_success"

	// Client-originated, datagram channel. The server never sends datagrams.
	MethodPtpMediationConnect = "ptpMediation_connect"
)

// ClientRegisteredPayload is sent once, on the newly opened stream only,
// before any other server-originated frame (spec.md §5 ordering guarantee).
type ClientRegisteredPayload struct {
	Token string `json:"token"`
}

// LobbyClosedPayload notifies a member that their lobby was torn down.
type LobbyClosedPayload struct {
	LobbyID   string `json:"lobbyId"`
	LobbyName string `json:"lobbyName"`
}

// LobbyPeerConnectPayload notifies existing members that a peer joined.
// Carries lobbyId per spec.md §9 Open Question 1 (the authoritative wire shape).
type LobbyPeerConnectPayload struct {
	LobbyID  string `json:"lobbyId"`
	PeerName string `json:"peerName"`
}

// LobbyPeerDisconnectPayload notifies remaining members that a non-host
// member left.
type LobbyPeerDisconnectPayload struct {
	LobbyID  string `json:"lobbyId"`
	PeerName string `json:"peerName"`
}

// ChatMessage is the body of a relayed lobby chat message.
type ChatMessage struct {
	Timestamp  int64  `json:"timestamp"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
}

// LobbyMessagingReceivedPayload is broadcast to every member of a lobby,
// including the sender, after a validated lobby_messaging_send.
type LobbyMessagingReceivedPayload struct {
	LobbyID string      `json:"lobbyId"`
	Message ChatMessage `json:"message"`
}

// LobbyMessagingSendPayload is the inbound chat-send request.
type LobbyMessagingSendPayload struct {
	Token   string `json:"token"`
	LobbyID string `json:"lobbyId"`
	Message string `json:"message"`
}

// PtpMediationSendPayload asks a member to emit a ptpMediation_connect
// datagram, carrying the server's UDP listen port.
type PtpMediationSendPayload struct {
	Port int `json:"port"`
}

// PtpMediationAbortedPayload carries a human-readable abort reason.
type PtpMediationAbortedPayload struct {
	AbortReason string `json:"abortReason"`
}

// PeerAddr is one member's observed (ip, port) as reported for hole-punching.
type PeerAddr struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// PtpMediationPeersConnectionStartPayload carries the peer addresses a
// given member should attempt to connect to.
type PtpMediationPeersConnectionStartPayload struct {
	Peers []PeerAddr `json:"peers"`
}

// PtpMediationPeersConnectionSuccessPayload is the inbound ack that a
// member has connected to all of its assigned peers.
type PtpMediationPeersConnectionSuccessPayload struct {
	Token string `json:"token"`
}

// PtpMediationSuccessPayload is the empty terminal-success frame.
type PtpMediationSuccessPayload struct{}

// PtpMediationConnectPayload is the inbound datagram payload; the source
// address is supplied by the OS at recv time, never by this payload.
type PtpMediationConnectPayload struct {
	Token string `json:"token"`
}
