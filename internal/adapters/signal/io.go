package signal

import (
	"context"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			ctl.flush(c)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteWait))
			return
		case data := <-c.send:
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// flush writes out whatever is still queued, e.g. a shutdown notice.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for {
		select {
		case data := <-c.send:
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		ctl.Orch.Close(id, "disconnect")
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(id)
		}
	}()

	ws := c.conn
	ws.SetReadLimit(ctl.Opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	ws.SetPongHandler(func(string) error {
		ctl.Orch.Heartbeat(id)
		return ws.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
			ctl.Orch.Reject(id, core.Errorf(core.RateLimited, "more than %d messages per %s", ctl.Limiter.limit, ctl.Limiter.interval))
			continue
		}
		ctl.Orch.Handle(ctx, id, data)
	}
}
