package http

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

const (
	errCodeInvalidMessage     = "invalid_message"
	errCodeRateLimited        = "rate_limited"
	errCodeUnsupportedVersion = "unsupported_version"
)

func inboundToCommand(inbound proto.Inbound) (core.Command, *proto.Error) {
	cmd := core.Command{Seq: inbound.Seq}

	switch inbound.Type {
	case proto.InboundTypeSetNickname:
		var data proto.SetNicknameData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return cmd, malformed(inbound.Type)
		}
		cmd.Kind = core.CommandSetNickname
		cmd.Nickname = data.Name
	case proto.InboundTypeJoinRoom:
		var data proto.JoinRoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return cmd, malformed(inbound.Type)
		}
		cmd.Kind = core.CommandJoinRoom
		cmd.Room = data.Room
	case proto.InboundTypeChatMessage:
		var data proto.ChatMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return cmd, malformed(inbound.Type)
		}
		cmd.Kind = core.CommandSubmitMessage
		cmd.Text = data.Text
		cmd.ClientOffset = data.ClientOffset
	case proto.InboundTypeTyping:
		cmd.Kind = core.CommandTyping
	case proto.InboundTypeStopTyping:
		cmd.Kind = core.CommandStopTyping
	default:
		return cmd, &proto.Error{Code: errCodeInvalidMessage, Msg: "unknown message type"}
	}
	return cmd, nil
}

func malformed(typ string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed " + typ + " data"}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventAck:
		return outboundFromAck(event.Ack)
	case core.EventChatMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChatMessage,
			Data: proto.EventChatMessageData{
				ID:       event.Message.ID,
				Room:     event.Message.Room,
				Nickname: event.Message.Nickname,
				Text:     event.Message.Text,
				TS:       event.Message.CreatedAt.UnixMilli(),
			},
		}
	case core.EventSystemMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSystemMessage,
			Data:  proto.EventSystemMessageData{Text: event.Text},
		}
	case core.EventUserTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserTyping,
			Data:  proto.EventTypingData{Nickname: event.User},
		}
	case core.EventUserStopTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserStopTyping,
			Data:  proto.EventTypingData{Nickname: event.User},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func outboundFromAck(ack *core.Ack) proto.Outbound {
	if ack == nil {
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
	}
	out := proto.Outbound{
		Type: proto.OutboundTypeAck,
		Seq:  ack.Seq,
		Data: proto.AckData{
			OK:        ack.OK(),
			ID:        ack.MessageID,
			Duplicate: ack.Duplicate,
			Room:      ack.Room,
		},
	}
	if ack.Error != nil {
		out.Error = &proto.Error{Code: ack.Error.Code, Msg: ack.Error.Message}
	}
	return out
}

func sessionOutbound(s *core.Session, resumeToken string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventSession,
		Data: proto.EventSessionData{
			SessionID:   s.ID,
			ResumeToken: resumeToken,
			Recovered:   s.Recovered(),
			Room:        s.Room(),
			Nickname:    s.Nickname(),
			Protocol:    proto.ProtocolVersion,
		},
	}
}
