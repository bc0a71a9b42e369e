package enqueuemessage

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// service is an interface for the service layer.
type service interface {
	Enqueue(
		ctx context.Context,
		payload []byte,
		payloadType string,
		destination string,
		deliverAt time.Time,
		priority int,
		metadata map[string]string,
	) (message.Message, error)
}

// enqueueMessageRequest represents an enqueue message request. Payload
// is base64 in transit, matching its opaque-blob treatment everywhere
// else.
type enqueueMessageRequest struct {
	Destination string            `json:"destination" validate:"required"`
	Payload     []byte            `json:"payload"     validate:"required"`
	PayloadType string            `json:"payloadType"`
	DeliverAt   time.Time         `json:"deliverAt"`
	Priority    int               `json:"priority"`
	Metadata    map[string]string `json:"metadata"`
}

// Validate validates the enqueue message request.
func (r *enqueueMessageRequest) Validate() error {
	return validator.New().Struct(r)
}

// enqueueMessageResponse represents an enqueue message response.
type enqueueMessageResponse struct {
	ID        string    `json:"id"`
	DeliverAt time.Time `json:"deliverAt"`
}

// Enqueue handles the enqueue message request.
func Enqueue(w http.ResponseWriter, r *http.Request, service service) {
	req := enqueueMessageRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for enqueue", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for enqueue", "error", err)

		return
	}

	if req.DeliverAt.IsZero() {
		req.DeliverAt = time.Now()
	}
	if req.Priority == 0 {
		req.Priority = 5
	}

	msg, err := service.Enqueue(
		r.Context(),
		req.Payload,
		req.PayloadType,
		req.Destination,
		req.DeliverAt,
		req.Priority,
		req.Metadata,
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error enqueueing message", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	resp := enqueueMessageResponse{
		ID:        msg.ID,
		DeliverAt: msg.DeliverAt,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Error sending response for enqueue", "error", err)
	}
}
