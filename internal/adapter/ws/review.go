package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/logger"
)

const maxClientMessage = 1 << 20

// ReviewService is the part of the workflow service the review channel
// drives.
type ReviewService interface {
	Get(ctx context.Context, id string) (*run.Run, error)
	Review(ctx context.Context, id string) (run.ReviewSnapshot, error)
	SubmitReview(ctx context.Context, id string, d run.ReviewDecision) error
}

// ServeReview upgrades a connection to the review decision channel of
// runID. The client first receives a state_update with the pending review
// snapshot, or the run snapshot when nothing is pending, and may then send
// review_decision messages. Each decision is acknowledged with
// decision_received or answered with error.
func (h *Hub) ServeReview(w http.ResponseWriter, r *http.Request, svc ReviewService, runID string) {
	rn, err := svc.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("review channel lookup failed", "run_id", runID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	ws, err := h.accept(w, r)
	if err != nil {
		slog.Error("websocket accept failed", "run_id", runID, "error", err)
		return
	}
	ws.SetReadLimit(maxClientMessage)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	ctx = logger.WithRunID(ctx, runID)
	c := h.add(ws, cancel, runID)
	slog.Info("review channel connected", "run_id", runID, "remote", r.RemoteAddr)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	var state any = rn.Snapshot()
	if snap, err := svc.Review(ctx, runID); err == nil {
		state = snap
	}
	if err := h.reply(ctx, c, stateMessage(state)); err != nil {
		return
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			_ = h.reply(ctx, c, errorMessage("expected a text message"))
			continue
		}
		if err := h.reply(ctx, c, h.handleClientMessage(ctx, svc, runID, data)); err != nil {
			return
		}
	}
}

func (h *Hub) handleClientMessage(ctx context.Context, svc ReviewService, runID string, data []byte) serverMessage {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errorMessage("invalid JSON message")
	}
	if msg.Type != MsgReviewDecision {
		return errorMessage("unknown message type: " + msg.Type)
	}
	status, err := run.ParseReviewStatus(msg.Status)
	if err != nil {
		return errorMessage(err.Error())
	}
	err = svc.SubmitReview(ctx, runID, run.ReviewDecision{
		Status:        status,
		Feedback:      msg.Feedback,
		Modifications: msg.Modifications,
		ReviewerID:    msg.ReviewerID,
	})
	switch {
	case err == nil:
		slog.Info("review decision received", "run_id", runID, "status", status, "channel", "websocket")
		return serverMessage{Type: MsgDecisionReceived, Status: "success"}
	case errors.Is(err, domain.ErrNotFound):
		return errorMessage("no review pending for this workflow")
	case errors.Is(err, domain.ErrAlreadyResolved):
		return errorMessage("review already resolved")
	case errors.Is(err, domain.ErrValidation):
		return errorMessage(err.Error())
	default:
		slog.Error("review submit failed", "run_id", runID, "error", err)
		return errorMessage("internal error")
	}
}

func (h *Hub) reply(ctx context.Context, c *conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.write(ctx, c, data)
}

func stateMessage(state any) serverMessage {
	data, err := json.Marshal(state)
	if err != nil {
		return errorMessage("state unavailable")
	}
	return serverMessage{Type: MsgStateUpdate, Data: data}
}

func errorMessage(msg string) serverMessage {
	return serverMessage{Type: MsgError, Message: msg}
}
