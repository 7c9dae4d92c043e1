package payeer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"payeerflow/config"
	exchange "payeerflow/internal/payeer"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
)

const streamComponent = "market_stream"

// FrameHandler consumes one text frame.
type FrameHandler func(ctx context.Context, raw []byte) error

// StreamClient keeps a websocket subscription to the push channel alive and
// feeds every frame to a handler. Reconnects are paced by a token bucket.
type StreamClient struct {
	url          string
	pairs        []string
	mapper       symbols.Mapper
	handle       FrameHandler
	reconnect    *rate.Limiter
	pingInterval time.Duration
	dialer       websocket.Dialer
	log          *logger.Log
}

func NewStreamClient(cfg config.StreamConfig, localIP string, pairs []string, mapper symbols.Mapper, handle FrameHandler) *StreamClient {
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	burst := cfg.ReconnectBurst
	if burst <= 0 {
		burst = 1
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = exchange.PingTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		}
	}

	return &StreamClient{
		url:          cfg.URL,
		pairs:        append([]string(nil), pairs...),
		mapper:       mapper,
		handle:       handle,
		reconnect:    rate.NewLimiter(rate.Every(interval), burst),
		pingInterval: ping,
		dialer:       dialer,
		log:          logger.GetLogger(),
	}
}

type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Pairs    []string `json:"pairs"`
}

// Run connects, subscribes and reads until ctx is cancelled. Connection
// failures are logged and retried.
func (s *StreamClient) Run(ctx context.Context) error {
	log := s.log.WithComponent(streamComponent).WithFields(logger.Fields{"url": s.url})
	for {
		if err := s.reconnect.Wait(ctx); err != nil {
			return ctx.Err()
		}
		err := s.session(ctx)
		if ctx.Err() != nil {
			log.Info("stream stopped due to context cancellation")
			return ctx.Err()
		}
		log.WithError(err).Warn("stream session ended, reconnecting")
	}
}

func (s *StreamClient) subscription(ctx context.Context) (subscribeRequest, error) {
	syms := make([]string, 0, len(s.pairs))
	for _, p := range s.pairs {
		sym, err := s.mapper.ExchangeSymbol(ctx, p)
		if err != nil {
			return subscribeRequest{}, err
		}
		syms = append(syms, sym)
	}
	return subscribeRequest{Op: "subscribe", Channels: []string{ChannelDepth, ChannelTrades}, Pairs: syms}, nil
}

func (s *StreamClient) session(ctx context.Context) error {
	sub, err := s.subscription(ctx)
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.WithComponent(streamComponent).WithField("pairs", sub.Pairs).Info("subscribed to push channel")

	deadline := s.pingInterval + exchange.PingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				closeConn()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		if err := s.handle(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.log.WithComponent(streamComponent).WithError(err).Warn("failed to handle push frame")
		}
	}
}
