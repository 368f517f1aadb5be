package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// frame mirrors proto.Outbound with the payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// client keeps what a reconnect needs: the last seen message id and the
// resume token of the previous session.
type client struct {
	addr   string
	user   string
	room   string
	lastID int64
	resume string
	seq    atomic.Int64
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "nickname")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	c := &client{addr: *addr, user: *user, room: *room}
	fmt.Println("Type messages and press Enter to send. /join <room> switches rooms. Ctrl+C to exit.")

	for {
		err := c.session(ctx, lines)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		log.Printf("connection lost (%v), reconnecting after id %d", err, c.lastID)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (c *client) dialURL() string {
	u, err := url.Parse(c.addr)
	if err != nil {
		return c.addr
	}
	q := u.Query()
	q.Set("offset", strconv.FormatInt(c.lastID, 10))
	if c.resume != "" {
		q.Set("resume", c.resume)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// session runs one connection. It returns nil when stdin is closed.
func (c *client) session(ctx context.Context, lines <-chan string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	room := c.room
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(ctx, conn, room)
	}()

	for {
		select {
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := c.sendLine(ctx, conn, text); err != nil {
				return err
			}
		}
	}
}

func (c *client) sendLine(ctx context.Context, conn *websocket.Conn, text string) error {
	if room, ok := strings.CutPrefix(text, "/join "); ok {
		c.room = strings.TrimSpace(room)
		return c.send(ctx, conn, proto.InboundTypeJoinRoom, proto.JoinRoomData{Room: c.room})
	}
	return c.send(ctx, conn, proto.InboundTypeChatMessage, proto.ChatMessageData{Text: text, ClientOffset: uuid.NewString()})
}

func (c *client) send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Seq: c.seq.Add(1), Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// readLoop prints events and tracks the resume state. room is the room to
// rejoin when the server starts a fresh session.
func (c *client) readLoop(ctx context.Context, conn *websocket.Conn, room string) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return err
			}
			log.Printf("read error: %v", err)
			return err
		}

		switch {
		case f.Type == proto.OutboundTypeError:
			fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
		case f.Type == proto.OutboundTypeAck:
			if f.Error != nil {
				fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
			}
		case f.Event == proto.EventSession:
			var evt proto.EventSessionData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				log.Printf("unmarshal session: %v", err)
				continue
			}
			c.resume = evt.ResumeToken
			if evt.Recovered {
				fmt.Printf("Resumed session in room %s as %s\n", evt.Room, evt.Nickname)
				continue
			}
			fmt.Printf("Connected to %s as %s\n", c.addr, c.user)
			if err := c.send(ctx, conn, proto.InboundTypeSetNickname, proto.SetNicknameData{Name: c.user}); err != nil {
				return err
			}
			if evt.Room != room {
				if err := c.send(ctx, conn, proto.InboundTypeJoinRoom, proto.JoinRoomData{Room: room}); err != nil {
					return err
				}
			}
		case f.Event == proto.EventChatMessage:
			var evt proto.EventChatMessageData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				log.Printf("unmarshal chat_message: %v", err)
				continue
			}
			c.lastID = max(c.lastID, evt.ID)
			fmt.Printf("[%s] %s: %s\n", evt.Room, evt.Nickname, evt.Text)
		case f.Event == proto.EventSystemMessage:
			var evt proto.EventSystemMessageData
			if err := json.Unmarshal(f.Data, &evt); err == nil {
				fmt.Printf("* %s\n", evt.Text)
			}
		case f.Event == proto.EventUserTyping, f.Event == proto.EventUserStopTyping:
			// Presence is not rendered.
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, f.Data)
		}
	}
}
