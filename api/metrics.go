package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boardflow-api/domain"
)

const boardTracerName = "boardflow-api/api"

// boardRequestMetrics collects per-phase timings for a board fetch and
// reports them twice: as attributes on an OpenTelemetry span and as
// structured logrus fields.
type boardRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	board          domain.BoardType
	itemsReturned  int
	errorStage     string
}

// newBoardRequestMetrics starts the request span and returns the context
// carrying it, so downstream storage calls nest under it.
func newBoardRequestMetrics(ctx context.Context, logger *log.Logger) (*boardRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(boardTracerName).Start(ctx, "board.fetch")
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *boardRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *boardRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *boardRequestMetrics) SetBoard(board domain.BoardType) {
	m.board = board
}

func (m *boardRequestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and emits the structured log entry. It must run once,
// after the response is written.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("http.route", "/api/board/:board"),
			attribute.Int("http.status_code", status),
			attribute.String("board.type", string(m.board)),
			attribute.Int("board.items_returned", m.itemsReturned),
			attribute.Float64("board.total_ms", durationToMillis(total)),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("board.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":          "/api/board/:board",
		"board":          string(m.board),
		"status":         status,
		"total_ms":       durationToMillis(total),
		"items_returned": m.itemsReturned,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
