// Package server defines the JSON wire protocol spoken over each WebSocket
// connection and maps inbound frames onto coordinator commands.
package server

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/Tyrowin/relaychat/internal/session"
)

// CommandType names an inbound command.
type CommandType string

const (
	CommandRegister           CommandType = "register"
	CommandSendMessage        CommandType = "send_message"
	CommandSendPrivateMessage CommandType = "send_private_message"
	CommandJoinGroup          CommandType = "join_group"
	CommandSendGroupMessage   CommandType = "send_group_message"
	CommandNotifyTyping       CommandType = "notify_typing"
	CommandShareFile          CommandType = "share_file"
)

// Command is one inbound frame. Only the fields used by Type are read.
type Command struct {
	Type      CommandType `json:"type" validate:"required,oneof=register send_message send_private_message join_group send_group_message notify_typing share_file"`
	UserName  string      `json:"userName,omitempty"`
	Text      string      `json:"text,omitempty"`
	TargetID  string      `json:"targetId,omitempty"`
	GroupName string      `json:"groupName,omitempty"`
	IsTyping  bool        `json:"isTyping,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	Content   string      `json:"content,omitempty"`
}

// Frame is one outbound event. Several frames written back to back are
// separated by a newline inside a single WebSocket message.
type Frame struct {
	Event session.EventName `json:"event"`
	Data  session.Event     `json:"data"`
}

var validate = validator.New()

// DecodeCommand parses and validates a raw inbound frame.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, errors.Wrap(err, "decode command")
	}
	cmd.Type = CommandType(strings.TrimSpace(string(cmd.Type)))
	if err := validate.Struct(cmd); err != nil {
		return Command{}, errors.Wrap(err, "validate command")
	}
	return cmd, nil
}

// Apply runs cmd on behalf of id and returns the deliveries it produced.
func (cmd Command) Apply(c *session.Coordinator, id session.ConnID) []session.Delivery {
	switch cmd.Type {
	case CommandRegister:
		return c.Register(id, cmd.UserName)
	case CommandSendMessage:
		return c.SendMessage(id, cmd.Text)
	case CommandSendPrivateMessage:
		return c.SendPrivateMessage(id, session.ConnID(cmd.TargetID), cmd.Text)
	case CommandJoinGroup:
		return c.JoinGroup(id, cmd.GroupName)
	case CommandSendGroupMessage:
		return c.SendGroupMessage(id, cmd.Text)
	case CommandNotifyTyping:
		return c.NotifyTyping(id, cmd.IsTyping)
	case CommandShareFile:
		return c.ShareFile(id, cmd.FileName, cmd.Content)
	}
	return nil
}

// EncodeEvent renders e as an outbound frame.
func EncodeEvent(e session.Event) ([]byte, error) {
	payload, err := json.Marshal(Frame{Event: e.Name(), Data: e})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", e.Name())
	}
	return payload, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
