package listfailed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/corray333/message-queue/internal/service/models/message"
)

// service is an interface for the service layer.
type service interface {
	FailedMessages(ctx context.Context) ([]message.FailedMessage, error)
	StuckMessageCount(ctx context.Context) (int64, error)
}

// failedMessageResponse represents one failed message in the report.
type failedMessageResponse struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	PayloadType string    `json:"payloadType"`
	Priority    int       `json:"priority"`
	DeliverAt   time.Time `json:"deliverAt"`
	Tries       int       `json:"tries"`
	Errors      string    `json:"errors"`
}

// ListFailed handles the failed messages report request.
func ListFailed(w http.ResponseWriter, r *http.Request, service service) {
	failed, err := service.FailedMessages(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error listing failed messages", "error", err)

		return
	}

	resp := make([]failedMessageResponse, 0, len(failed))
	for _, f := range failed {
		resp = append(resp, failedMessageResponse{
			ID:          f.Message.ID,
			Destination: f.Message.Destination,
			PayloadType: f.Message.PayloadType,
			Priority:    f.Message.Priority,
			DeliverAt:   f.Message.DeliverAt,
			Tries:       f.Count,
			Errors:      f.Message.Errors,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Error sending response for failed messages", "error", err)
	}
}

// CountStuck handles the stuck messages count request.
func CountStuck(w http.ResponseWriter, r *http.Request, service service) {
	count, err := service.StuckMessageCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error counting stuck messages", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int64{"stuck": count}); err != nil {
		slog.Error("Error sending response for stuck messages", "error", err)
	}
}
