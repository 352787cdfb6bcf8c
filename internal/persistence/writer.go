package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/cryptoview/gateway/internal/domain"
)

type WriteType int

const (
	WriteTypeOrder WriteType = iota
	WriteTypeAuthEvent
)

type WriteRequest struct {
	Type   WriteType
	Order  *domain.OrderResult
	Event  string
	Detail string
}

// AsyncWriter decouples request handling from storage latency. Order writes
// go through a never-dropped channel; audit events are best-effort and are
// dropped under backpressure.
type AsyncWriter struct {
	orderCh  chan WriteRequest
	auditCh  chan WriteRequest
	sqlite   *SQLiteStore
	postgres *PostgresStore
	logger   *slog.Logger
	done     chan struct{}
}

func NewAsyncWriter(sqlite *SQLiteStore, postgres *PostgresStore, bufferSize int, logger *slog.Logger) *AsyncWriter {
	return &AsyncWriter{
		orderCh:  make(chan WriteRequest, 100),
		auditCh:  make(chan WriteRequest, bufferSize),
		sqlite:   sqlite,
		postgres: postgres,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RecordOrder and RecordOAuthEvent implement the server's audit sink.

func (w *AsyncWriter) RecordOrder(res *domain.OrderResult) {
	w.orderCh <- WriteRequest{Type: WriteTypeOrder, Order: res}
}

func (w *AsyncWriter) RecordOAuthEvent(event, detail string) {
	select {
	case w.auditCh <- WriteRequest{Type: WriteTypeAuthEvent, Event: event, Detail: detail}:
	default:
		w.logger.Warn("audit channel full, dropping auth event", "event", event)
	}
}

func (w *AsyncWriter) Run() {
	go w.processOrders()
	go w.processAudit()
}

func (w *AsyncWriter) processOrders() {
	for req := range w.orderCh {
		w.handleWrite(req)
	}
}

func (w *AsyncWriter) processAudit() {
	for req := range w.auditCh {
		w.handleWrite(req)
	}
}

func (w *AsyncWriter) handleWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch req.Type {
	case WriteTypeOrder:
		if w.sqlite != nil {
			if err := w.sqlite.WriteOrder(req.Order); err != nil {
				w.logger.Error("failed to write order to hot store", "order_id", req.Order.OrderID, "error", err)
			}
		}
		if err := w.postgres.WriteOrder(ctx, req.Order); err != nil {
			w.logger.Error("failed to write order to cold store", "order_id", req.Order.OrderID, "error", err)
		}
	case WriteTypeAuthEvent:
		if w.sqlite != nil {
			if err := w.sqlite.WriteAuthEvent(req.Event, req.Detail); err != nil {
				w.logger.Error("failed to write auth event", "event", req.Event, "error", err)
			}
		}
		if err := w.postgres.WriteAuthEvent(ctx, req.Event, req.Detail); err != nil {
			w.logger.Error("failed to write auth event to cold store", "event", req.Event, "error", err)
		}
	default:
		w.logger.Warn("unknown write type", "type", req.Type)
	}
}

func (w *AsyncWriter) Stop() {
	close(w.orderCh)
	close(w.auditCh)
	close(w.done)
}
