// Package router implements the Control-channel Router: schema
// validation, token resolution, and precondition checks for every
// inbound operation, whether it arrives over the reliable stream or the
// request-response surface (spec.md §4.5).
package router

import (
	"encoding/json"
	"log"
	"regexp"
	"time"

	"orion/internal/cascade"
	"orion/internal/lobby"
	"orion/internal/protocol"
	"orion/internal/session"
)

var nameRe = regexp.MustCompile(`^\w+[\w ]*$`)

func validateName(field, name string) error {
	if name == "" || len(name) > 50 {
		return &SchemaError{Msg: field + " must be 1-50 characters"}
	}
	if !nameRe.MatchString(name) {
		return &SchemaError{Msg: field + " must be alphanumeric plus spaces, not starting with a space"}
	}
	return nil
}

func validateCapacity(n int) error {
	if n < 1 || n > 64 {
		return &SchemaError{Msg: "maxMembers must be between 1 and 64"}
	}
	return nil
}

func validateMessage(msg string) error {
	if len(msg) < 1 || len(msg) > 250 {
		return &SchemaError{Msg: "message must be 1-250 characters"}
	}
	return nil
}

// Router ties the Session Registry and Lobby Registry together for both
// the request-response surface (internal/httpapi) and the reliable
// stream (internal/wsserver).
type Router struct {
	Sessions *session.Registry
	Lobbies  *lobby.Registry
}

// New returns a Router over the given registries.
func New(sessions *session.Registry, lobbies *lobby.Registry) *Router {
	return &Router{Sessions: sessions, Lobbies: lobbies}
}

// CreateLobbyRequest is the POST /lobbies body.
type CreateLobbyRequest struct {
	Token      string `json:"token"`
	HostName   string `json:"hostName"`
	LobbyName  string `json:"lobbyName"`
	IsPublic   bool   `json:"isPublic"`
	MaxMembers int    `json:"maxMembers"`
}

// CreateLobbyResponse is the 201 body of a successful create.
type CreateLobbyResponse struct {
	LobbyName string `json:"lobbyName"`
	LobbyID   string `json:"lobbyId"`
}

// CreateLobby validates req, resolves its token, and creates a lobby.
// Validation runs before token resolution, and token resolution before
// the registry's own state checks, per spec.md §4.5's ordering rule.
func (r *Router) CreateLobby(req CreateLobbyRequest) (CreateLobbyResponse, error) {
	if err := validateName("hostName", req.HostName); err != nil {
		return CreateLobbyResponse{}, err
	}
	if err := validateName("lobbyName", req.LobbyName); err != nil {
		return CreateLobbyResponse{}, err
	}
	if err := validateCapacity(req.MaxMembers); err != nil {
		return CreateLobbyResponse{}, err
	}

	sess, ok := r.Sessions.LookupByToken(req.Token)
	if !ok {
		return CreateLobbyResponse{}, session.ErrUnknownToken
	}

	l, err := r.Lobbies.Create(sess, lobby.CreateParams{
		HostName:  req.HostName,
		LobbyName: req.LobbyName,
		IsPublic:  req.IsPublic,
		Capacity:  req.MaxMembers,
	})
	if err != nil {
		return CreateLobbyResponse{}, &ConflictError{Err: err}
	}
	return CreateLobbyResponse{LobbyName: l.Name, LobbyID: l.ID}, nil
}

// JoinLobbyRequest is the POST /lobbies/:lobbyId/join body.
type JoinLobbyRequest struct {
	Token    string `json:"token"`
	PeerName string `json:"peerName"`
}

// JoinLobbyResponse is the 200 body of a successful join.
type JoinLobbyResponse struct {
	LobbyID      string   `json:"lobbyId"`
	LobbyName    string   `json:"lobbyName"`
	LobbyMembers []string `json:"lobbyMembers"`
	Host         string   `json:"host"`
}

// JoinLobby validates req, resolves its token, and joins lobbyID.
func (r *Router) JoinLobby(lobbyID string, req JoinLobbyRequest) (JoinLobbyResponse, error) {
	if err := validateName("peerName", req.PeerName); err != nil {
		return JoinLobbyResponse{}, err
	}

	sess, ok := r.Sessions.LookupByToken(req.Token)
	if !ok {
		return JoinLobbyResponse{}, session.ErrUnknownToken
	}

	res, err := r.Lobbies.Join(lobbyID, sess, req.PeerName)
	if err != nil {
		return JoinLobbyResponse{}, &ConflictError{Err: err}
	}
	return JoinLobbyResponse{
		LobbyID:      res.LobbyID,
		LobbyName:    res.LobbyName,
		LobbyMembers: res.LobbyMembers,
		Host:         res.HostName,
	}, nil
}

// StartMediationRequest is the POST /lobbies/:lobbyId/ptp/start body.
type StartMediationRequest struct {
	Token string `json:"token"`
}

// StartMediation resolves req's token and starts mediation on lobbyID.
func (r *Router) StartMediation(lobbyID string, req StartMediationRequest) error {
	sess, ok := r.Sessions.LookupByToken(req.Token)
	if !ok {
		return session.ErrUnknownToken
	}
	if err := r.Lobbies.StartMediation(sess, lobbyID); err != nil {
		return &ConflictError{Err: err}
	}
	return nil
}

// LobbySummary is one entry of the GET /lobbies listing.
type LobbySummary struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	CurrentMembers int    `json:"currentMembers"`
	MaxMembers     int    `json:"maxMembers"`
}

// ListPublicLobbies returns every public lobby's summary.
func (r *Router) ListPublicLobbies() []LobbySummary {
	summaries := r.Lobbies.ListPublic()
	out := make([]LobbySummary, len(summaries))
	for i, s := range summaries {
		out[i] = LobbySummary{
			Name:           s.Name,
			ID:             s.ID,
			CurrentMembers: s.CurrentMembers,
			MaxMembers:     s.Capacity,
		}
	}
	return out
}

// HandleStreamFrame dispatches a decoded inbound stream frame to the
// matching handler. An unrecognized method is silently dropped per
// spec.md §6's stream ignore policy.
func (r *Router) HandleStreamFrame(method string, raw []byte) {
	switch method {
	case protocol.MethodLobbyMessagingSend:
		var payload protocol.LobbyMessagingSendPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("[router] malformed %s payload, dropping: %v", method, err)
			return
		}
		r.handleLobbyMessagingSend(payload)
	case protocol.MethodPtpMediationPeersConnectionSuccess:
		var payload protocol.PtpMediationPeersConnectionSuccessPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("[router] malformed %s payload, dropping: %v", method, err)
			return
		}
		r.handlePeersConnectionSuccess(payload)
	default:
		log.Printf("[router] unknown method %q, dropping", method)
	}
}

// handleLobbyMessagingSend validates and relays a chat message to every
// member of the sender's lobby, including the sender. Every failure mode
// is silent per spec.md §4.5.
func (r *Router) handleLobbyMessagingSend(payload protocol.LobbyMessagingSendPayload) {
	if err := validateMessage(payload.Message); err != nil {
		log.Printf("[router] lobby_messaging_send: %v", err)
		return
	}
	sess, ok := r.Sessions.LookupByToken(payload.Token)
	if !ok {
		log.Printf("[router] lobby_messaging_send: unknown token")
		return
	}
	l, ok := r.Lobbies.LobbyForToken(payload.Token)
	if !ok || l.ID != payload.LobbyID {
		log.Printf("[router] lobby_messaging_send: sender is not a member of lobby %q", payload.LobbyID)
		return
	}

	members := l.Members()
	recipients := make([]*session.Session, len(members))
	var senderName string
	for i, m := range members {
		recipients[i] = m.Session
		if m.Session.ID == sess.ID {
			senderName = m.Name
		}
	}

	cascade.Dispatch(recipients, protocol.MethodLobbyMessagingReceived, protocol.LobbyMessagingReceivedPayload{
		LobbyID: l.ID,
		Message: protocol.ChatMessage{
			Timestamp:  time.Now().Unix(),
			SenderName: senderName,
			Message:    payload.Message,
		},
	})
}

// handlePeersConnectionSuccess delegates an ack to the token's lobby's
// active mediator, if any. Silent if the token, lobby, or mediator is
// absent (spec.md §4.5).
func (r *Router) handlePeersConnectionSuccess(payload protocol.PtpMediationPeersConnectionSuccessPayload) {
	l, ok := r.Lobbies.LobbyForToken(payload.Token)
	if !ok {
		log.Printf("[router] ptpMediation_peersConnection_success: unknown token")
		return
	}
	med := l.Mediator()
	if med == nil {
		log.Printf("[router] ptpMediation_peersConnection_success: no active mediation for lobby %q", l.ID)
		return
	}
	med.ReportSuccess(payload.Token)
}
