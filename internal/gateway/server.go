// Package gateway exposes the websocket endpoints that bridge HTTP clients
// into the dispatch registry.
package gateway

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"torypto-stream/internal/dispatch"
	"torypto-stream/internal/metrics"
	"torypto-stream/internal/model"
)

const defaultInterval = "1m"

// Server registers the websocket routes on an echo instance and turns each
// accepted connection into a dispatch subscriber.
type Server struct {
	dispatcher *dispatch.Dispatcher
	met        *metrics.Metrics
	log        *zap.Logger
	queueSize  int
	upgrader   websocket.Upgrader
}

// NewServer creates the gateway. queueSize bounds each client's send buffer.
func NewServer(d *dispatch.Dispatcher, met *metrics.Metrics, log *zap.Logger, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Server{
		dispatcher: d,
		met:        met,
		log:        log,
		queueSize:  queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the gateway routes.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws/kline/:symbol", s.handleKline)
	e.GET("/ws/price/:symbol", s.handlePrice)
	e.GET("/ws/status", s.handleStatus)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleKline(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	interval := c.QueryParam("interval")
	if interval == "" {
		interval = defaultInterval
	}
	if symbol == "" || !model.ValidInterval(interval) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown symbol or interval")
	}
	return s.serve(c, model.Key{Symbol: symbol, Interval: interval})
}

func (s *Server) handlePrice(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown symbol")
	}
	return s.serve(c, model.TickerKey(symbol))
}

// serve upgrades the connection, subscribes it, and blocks until the peer
// disconnects. Unsubscribe on exit closes the upstream stream when this was
// the key's last subscriber.
func (s *Server) serve(c echo.Context, key model.Key) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := newClient(conn, s.queueSize, func() {
		s.met.SubscriberDrops.WithLabelValues("overflow").Inc()
	}, s.log)
	go client.writePump()

	s.log.Info("ws client connected",
		zap.String("key", key.String()), zap.String("client", client.id))

	if err := s.dispatcher.Subscribe(c.Request().Context(), key, client); err != nil {
		s.log.Warn("subscribe failed",
			zap.String("key", key.String()), zap.Error(err))
		client.Send(&dispatch.Payload{Event: dispatch.EventError, Key: key, ErrorMsg: err.Error()})
		client.close()
		return nil
	}

	client.readPump() // blocks until disconnect
	s.dispatcher.Unsubscribe(key, client.id)
	s.log.Info("ws client disconnected",
		zap.String("key", key.String()), zap.String("client", client.id))
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	status := s.dispatcher.Status()
	total := 0
	for _, n := range status {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"active_keys":       status,
		"total_subscribers": total,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
