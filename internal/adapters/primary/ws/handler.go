package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ggg436/greenloops/feed-sync/internal/adapters/primary/auth"
	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	initTimeout    = 15 * time.Second

	codeBadRequest  = "BAD_REQUEST"
	codeUnavailable = "UNAVAILABLE"
)

var errUnknownOp = errors.New("unknown operation")

// SessionFactory opens the feed session of a viewer. The anonymous viewer has an empty ID.
type SessionFactory func(viewer domain.Viewer) ports.FeedSession

// Handler serves one live feed session per WebSocket connection.
type Handler struct {
	newSession SessionFactory
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewHandler accepts connections from the given origins; "*" accepts any origin.
func NewHandler(newSession SessionFactory, allowedOrigins []string) *Handler {
	h := &Handler{newSession: newSession, conns: make(map[*websocket.Conn]context.CancelFunc)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewer := auth.ForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if !h.track(conn, cancel) {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	c := newClient(conn)
	session := h.newSession(viewer)
	session.OnChange(c.pushView)
	go c.writePump(ctx)

	defer func() {
		session.Teardown()
		cancel()
		<-c.done
		_ = conn.Close()
		slog.Debug("feed session closed", "viewer_id", viewer.ID)
	}()

	initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
	err = session.Initialize(initCtx)
	initCancel()
	if err != nil {
		slog.Error("feed session initialization failed", "viewer_id", viewer.ID, "error", err)
		c.reply(failure(command{Op: "initialize"}, err))
		return
	}
	c.pushView(session.View())
	slog.Debug("feed session opened", "viewer_id", viewer.ID)

	c.readPump(func(cmd command) {
		reply, err := dispatch(ctx, session, cmd)
		switch {
		case err == nil:
			c.reply(reply)
		case cmd.Op == "like" && domain.IsRemoteWrite(err):
			// A rejected like is corrected by the resync; the client only sees the fresh view.
			c.reply(serverMessage{Type: msgAck, Op: cmd.Op, Ref: cmd.Ref})
		default:
			c.reply(failure(cmd, err))
		}
	})
}

// Close drops every open connection and waits until their sessions are torn down.
// http.Server.Shutdown leaves hijacked connections alone, so servers call it after Shutdown.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	for conn, cancel := range h.conns {
		cancel()
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Handler) track(conn *websocket.Conn, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = cancel
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.wg.Done()
}

func dispatch(ctx context.Context, s ports.FeedSession, cmd command) (serverMessage, error) {
	ack := serverMessage{Type: msgAck, Op: cmd.Op, Ref: cmd.Ref}

	switch cmd.Op {
	case "load_more":
		return ack, s.LoadMore(ctx)
	case "like":
		return ack, s.Like(ctx, cmd.PostID)
	case "comment":
		return ack, s.Comment(ctx, cmd.PostID, cmd.Text)
	case "edit":
		return ack, s.Edit(ctx, cmd.PostID, ports.EditInput{
			Text:       cmd.Text,
			Image:      image(cmd.ImageURL),
			ClearImage: cmd.ClearImage,
		})
	case "delete":
		return ack, s.Delete(ctx, cmd.PostID)
	case "share":
		return ack, s.Share(ctx, cmd.PostID)
	case "follow":
		return ack, s.Follow(ctx, cmd.AuthorID)
	case "report":
		return ack, s.Report(ctx, cmd.PostID, cmd.Reason)
	case "create_post":
		id, err := s.CreatePost(ctx, cmd.Text, image(cmd.ImageURL))
		return serverMessage{Type: msgCreated, Op: cmd.Op, Ref: cmd.Ref, PostID: id}, err
	case "suggestions":
		profiles, err := s.Suggestions(ctx, cmd.Limit)
		return serverMessage{Type: msgSuggestions, Op: cmd.Op, Ref: cmd.Ref, Profiles: toProfileDTOs(profiles)}, err

	// UI-transient state
	case "toggle_comments":
		return ack, s.ToggleComments(cmd.PostID)
	case "comment_draft":
		return ack, s.SetCommentDraft(cmd.PostID, cmd.Text)
	case "begin_edit":
		return ack, s.BeginEdit(cmd.PostID)
	case "edit_draft":
		return ack, s.SetEditDraft(cmd.PostID, cmd.Text)
	case "cancel_edit":
		return ack, s.CancelEdit(cmd.PostID)
	}
	return serverMessage{}, errUnknownOp
}

func image(url string) *domain.Media {
	if url == "" {
		return nil
	}
	return domain.NewImage(url)
}

func failure(cmd command, err error) serverMessage {
	code := string(domain.CodeOf(err))
	message := errorMessage(cmd.Op, domain.CodeOf(err))
	switch {
	case errors.Is(err, errUnknownOp):
		code, message = codeBadRequest, "Unknown operation."
	case code == "":
		slog.Error("feed command failed", "op", cmd.Op, "error", err)
		code = codeUnavailable
	}
	return serverMessage{Type: msgError, Op: cmd.Op, Ref: cmd.Ref, Code: code, Message: message}
}

// --- CONNECTION ---

type client struct {
	conn    *websocket.Conn
	views   chan domain.FeedView
	replies chan serverMessage
	done    chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:    conn,
		views:   make(chan domain.FeedView, 1),
		replies: make(chan serverMessage, 16),
		done:    make(chan struct{}),
	}
}

// pushView keeps only the freshest view for a slow client.
func (c *client) pushView(v domain.FeedView) {
	select {
	case c.views <- v:
		return
	default:
	}
	select {
	case <-c.views:
	default:
	}
	select {
	case c.views <- v:
	default:
	}
}

func (c *client) reply(m serverMessage) {
	select {
	case c.replies <- m:
	case <-c.done:
	}
}

func (c *client) readPump(handle func(cmd command)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(serverMessage{Type: msgError, Code: codeBadRequest, Message: "Malformed message."})
			continue
		}
		handle(cmd)
	}
}

func (c *client) writePump(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v := <-c.views:
			err = c.write(serverMessage{Type: msgView, View: toViewDTO(v)})
		case m := <-c.replies:
			err = c.write(m)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			slog.Warn("websocket write failed", "error", err)
			// Unblocks the read pump.
			_ = c.conn.Close()
			return
		}
	}
}

func (c *client) write(m serverMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(m)
}
