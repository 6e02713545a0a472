package realtime

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 15 * time.Second
	eventTimeout = 10 * time.Second
	maxFrameSize = 64 * 1024
)

func RegisterRoutes(r fiber.Router, g *Gateway) {
	r.Get("/ws", websocket.New(func(ws *websocket.Conn) {
		g.Serve(ws)
	}))
}

// Serve runs one websocket connection until the peer goes away. A token
// query parameter authenticates up front for clients that cannot send an
// authenticate event first.
func (g *Gateway) Serve(ws *websocket.Conn) {
	conn := g.Open()
	done := make(chan struct{})
	go g.writePump(ws, conn, done)
	defer func() {
		g.Close(conn)
		<-done
	}()

	if token := ws.Query("token"); token != "" {
		if err := g.Authenticate(conn, token); err != nil {
			g.fail(conn, err)
		}
	}

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		g.Handle(ctx, conn, msg)
		cancel()
	}
}

func (g *Gateway) writePump(ws *websocket.Conn, conn *Conn, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
