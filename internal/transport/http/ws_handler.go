package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
)

// WSHandler pushes session or participant snapshots over a websocket and accepts
// answers and joins from the same connection.
type WSHandler struct {
	coord    Coordinator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(coord Coordinator, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Option        int `json:"option"`
}

type joinPayload struct {
	DisplayName string `json:"displayName"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS handles GET /ws?code=XXXXXX&watch=session|participant. The caller comes from
// the token already resolved by the auth middleware.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	if caller.Anonymous() {
		respondError(w, domain.ErrUnauthenticated)
		return
	}
	code := domain.NormalizeCode(r.URL.Query().Get("code"))
	if code == "" {
		respondError(w, domain.New(domain.CodeInvalidArgument, "missing code"))
		return
	}
	watch := r.URL.Query().Get("watch")
	if watch == "" {
		watch = "session"
	}

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	var (
		updates <-chan any
		cancel  func()
		err     error
	)
	switch watch {
	case "session":
		updates, cancel, err = h.watchSession(ctx, caller, code)
	case "participant":
		updates, cancel, err = h.watchParticipant(ctx, caller, code)
	default:
		err = domain.New(domain.CodeInvalidArgument, "watch must be session or participant")
	}
	if err != nil {
		respondError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.String("code", code), zap.Error(err))
				for range send {
				}
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: watch, Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.handle(ctx, caller, code, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, caller domain.Identity, code string, inbound inboundMessage) outboundMessage {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(domain.New(domain.CodeInvalidArgument, "invalid answer payload"))
		}
		res, err := h.coord.SubmitAnswer(ctx, caller, code, payload.QuestionIndex, payload.Option)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "answerResult", Payload: res}
	case "join":
		var payload joinPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errorMessage(domain.New(domain.CodeInvalidArgument, "invalid join payload"))
			}
		}
		res, err := h.coord.JoinSession(ctx, caller, code, payload.DisplayName)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "joined", Payload: res}
	default:
		return errorMessage(domain.New(domain.CodeInvalidArgument, "unsupported message type"))
	}
}

func (h *WSHandler) watchSession(ctx context.Context, caller domain.Identity, code string) (<-chan any, func(), error) {
	snapshots, cancel, err := h.coord.WatchSession(ctx, caller, code)
	if err != nil {
		return nil, nil, err
	}
	joinURL := h.coord.JoinURL(code)
	return relay(ctx, snapshots, func(s domain.Session) any {
		return newSessionView(s, caller, joinURL)
	}), cancel, nil
}

func (h *WSHandler) watchParticipant(ctx context.Context, caller domain.Identity, code string) (<-chan any, func(), error) {
	standings, cancel, err := h.coord.WatchParticipant(ctx, caller, code, caller.ID)
	if err != nil {
		return nil, nil, err
	}
	return relay(ctx, standings, func(p domain.Participant) any { return p }), cancel, nil
}

// relay maps a typed update stream onto wire payloads until in closes or ctx ends.
func relay[T any](ctx context.Context, in <-chan T, convert func(T) any) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- convert(v):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func errorMessage(err error) outboundMessage {
	code := domain.CodeOf(err)
	msg := err.Error()
	if statusFor(code) == http.StatusInternalServerError {
		msg = "internal error"
	}
	return outboundMessage{Type: "error", Payload: errorBody{Code: code, Error: msg}}
}
