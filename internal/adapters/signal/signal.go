package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// UserKey is the gin context key the identity middleware stores *domain.User under.
const UserKey = "collab_user"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendQueue  int
	// DropOldest evicts the oldest queued frame instead of reporting backpressure.
	DropOldest bool
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendQueue:  64,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		Opts:    opts,
	}
}

// WsSignalConn is the write side of one websocket: a bounded queue drained by writePump.
type WsSignalConn struct {
	conn       *websocket.Conn
	send       chan core.Frame
	dropOldest bool

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWsSignalConn(ws *websocket.Conn, queue int, dropOldest bool) *WsSignalConn {
	return &WsSignalConn{
		conn:       ws,
		send:       make(chan core.Frame, queue),
		dropOldest: dropOldest,
		done:       make(chan struct{}),
	}
}

// TrySend never blocks. A full queue either loses its oldest frame or
// reports ErrBackpressure, depending on the overflow mode.
func (c *WsSignalConn) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return core.ErrConnectionClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		select {
		case c.send <- f:
			return nil
		default:
		}
		if !c.dropOldest {
			return core.ErrBackpressure
		}
		select {
		case <-c.send:
			log.Debug().Str("module", "signal").Msg("dropped oldest queued frame")
		default:
		}
	}
}

// Close asks writePump to flush and close the socket. Safe to call twice.
func (c *WsSignalConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	v, ok := c.Get(UserKey)
	user, _ := v.(*domain.User)
	if !ok || user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if ctl.Orch.Draining() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "draining"})
		return
	}

	// the upgrade response is written by hand, so session cookies must be passed along
	var hdr http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		hdr = http.Header{"Set-Cookie": cookies}
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, hdr)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendQueue, ctl.Opts.DropOldest)
	sess, err := ctl.Orch.Accept(domain.NewConnID(), conn, user)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user.ID)).Msg("connection refused")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteWait))
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Str("user", string(user.ID)).
		Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(conn)
	go ctl.readPump(ctx, sess.ID, conn)
}
