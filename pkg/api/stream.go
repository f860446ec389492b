package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

// Stream frame types.
const (
	FrameHello                  = "hello"
	FrameDeliveries             = "deliveries"
	FrameDeliveriesByImportance = "deliveries.by_importance"
	FrameDeliveriesByAge        = "deliveries.by_age"
	FrameSelected               = "selected"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Frame is one message on the websocket stream.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type hello struct {
	ConnectionID string `json:"connection_id"`
}

var errServiceClosed = stderrors.New("delivery service closed")

// handleStream upgrades to a websocket and streams every view change. The
// first frames carry the current state of all four views.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	connectionID := uuid.NewString()
	log := s.log.With("connection_id", connectionID)
	telemetry.StreamClients.Inc()
	defer telemetry.StreamClients.Dec()

	// The client only sends control frames; CloseRead handles them and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	startWSPing(ctx, conn)

	log.Debug("stream connected")
	err = s.stream(ctx, conn, connectionID)
	switch {
	case stderrors.Is(err, errServiceClosed):
		conn.Close(websocket.StatusGoingAway, "service stopped")
	case ctx.Err() != nil:
		log.Debug("stream disconnected")
	default:
		log.Warn("stream write failed", "error", err.Error())
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, connectionID string) error {
	all, stopAll := s.coord.OpenDeliveriesChange()
	defer stopAll()
	byImportance, stopByImportance := s.coord.OpenDeliveriesByImportanceChange()
	defer stopByImportance()
	byAge, stopByAge := s.coord.OpenDeliveriesByAgeChange()
	defer stopByAge()
	selected, stopSelected := s.coord.SelectedChange()
	defer stopSelected()

	var (
		current     *intel.DetailedOpenIntelDelivery
		sent        uint64
		details     <-chan uint64
		stopDetails = func() {}
	)
	defer func() { stopDetails() }()

	if err := writeFrame(ctx, conn, FrameHello, hello{ConnectionID: connectionID}); err != nil {
		return err
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-all:
			if !ok {
				return errServiceClosed
			}
			err = writeFrame(ctx, conn, FrameDeliveries, nonNil(v))
		case v, ok := <-byImportance:
			if !ok {
				return errServiceClosed
			}
			err = writeFrame(ctx, conn, FrameDeliveriesByImportance, nonNil(v))
		case v, ok := <-byAge:
			if !ok {
				return errServiceClosed
			}
			err = writeFrame(ctx, conn, FrameDeliveriesByAge, nonNil(v))
		case d, ok := <-selected:
			if !ok {
				return errServiceClosed
			}
			stopDetails()
			current, details, stopDetails = d, nil, func() {}
			if d != nil {
				details, stopDetails = d.Changes()
				sent = d.Version()
			}
			err = writeFrame(ctx, conn, FrameSelected, selectedData(d))
		case version, ok := <-details:
			if !ok {
				details = nil
				continue
			}
			if version <= sent {
				continue
			}
			sent = version
			err = writeFrame(ctx, conn, FrameSelected, selectedData(current))
		}
		if err != nil {
			return err
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frameType string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, Frame{Type: frameType, Data: data})
}

// selectedData keeps a nil selection a JSON null.
func selectedData(d *intel.DetailedOpenIntelDelivery) any {
	if d == nil {
		return nil
	}
	return d
}

func startWSPing(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(wsPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}
