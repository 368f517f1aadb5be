package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// frame mirrors proto.Outbound with the payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "nickname to set")
	room := flag.String("room", "general", "room name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	request := func(seq int64, typ string, data any) (proto.AckData, error) {
		payload, err := json.Marshal(data)
		if err != nil {
			return proto.AckData{}, fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Seq: seq, Data: payload}); err != nil {
			return proto.AckData{}, fmt.Errorf("send %s: %w", typ, err)
		}
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return proto.AckData{}, fmt.Errorf("read: %w", err)
			}
			log.Printf("<- type=%s event=%s seq=%d data=%s", f.Type, f.Event, f.Seq, f.Data)
			if f.Type == proto.OutboundTypeError {
				return proto.AckData{}, fmt.Errorf("%s rejected: %s", typ, f.Error.Msg)
			}
			if f.Type != proto.OutboundTypeAck || f.Seq != seq {
				continue
			}
			var ack proto.AckData
			if err := json.Unmarshal(f.Data, &ack); err != nil {
				return proto.AckData{}, fmt.Errorf("decode ack: %w", err)
			}
			if !ack.OK {
				return ack, fmt.Errorf("%s failed: %s", typ, f.Error.Msg)
			}
			return ack, nil
		}
	}

	if _, err := request(1, proto.InboundTypeSetNickname, proto.SetNicknameData{Name: *user}); err != nil {
		return err
	}
	if _, err := request(2, proto.InboundTypeJoinRoom, proto.JoinRoomData{Room: *room}); err != nil {
		return err
	}

	msg := proto.ChatMessageData{Text: *text, ClientOffset: uuid.NewString()}
	first, err := request(3, proto.InboundTypeChatMessage, msg)
	if err != nil {
		return err
	}
	retry, err := request(4, proto.InboundTypeChatMessage, msg)
	if err != nil {
		return err
	}
	if !retry.Duplicate {
		return fmt.Errorf("retry of offset %s was stored twice", msg.ClientOffset)
	}

	log.Printf("smoke ok: message %d stored once in %s", first.ID, first.Room)
	return nil
}
