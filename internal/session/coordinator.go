package session

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultGroup is joined implicitly by every successful registration.
	DefaultGroup = "Genel"
	// SystemSender is the sender name of coordinator-generated group notices.
	SystemSender = "System"
)

// Lifecycle is invoked by the transport when a connection opens or closes.
type Lifecycle interface {
	OnConnect(id ConnID) []Delivery
	OnDisconnect(id ConnID) []Delivery
}

// Coordinator implements the chat commands as state transitions over State.
// Every method is safe for concurrent use; commands of one connection must be
// applied in the order the transport received them.
type Coordinator struct {
	state  *State
	router *Router
}

var _ Lifecycle = (*Coordinator)(nil)

func NewCoordinator(state *State) *Coordinator {
	return &Coordinator{
		state:  state,
		router: NewRouter(state.Registry, state.Membership),
	}
}

func (c *Coordinator) State() *State { return c.state }

// outbox collects deliveries for one command. Targets are resolved when the
// event is emitted, so later state changes in the same command are visible to
// later emits only.
type outbox struct {
	caller ConnID
	router *Router
	out    []Delivery
}

func (c *Coordinator) newOutbox(caller ConnID) *outbox {
	return &outbox{caller: caller, router: c.router}
}

func (o *outbox) emit(t Target, e Event) {
	for _, id := range o.router.Resolve(o.caller, t) {
		o.out = append(o.out, Delivery{To: id, Event: e})
	}
}

func (o *outbox) notice(text string) {
	o.emit(Caller(), SystemMessage{Text: text})
}

// reject answers a failed precondition with a notice to the caller only.
func (o *outbox) reject(err error, text string) {
	log.Debug().Err(err).Str("conn_id", string(o.caller)).Msg("command rejected")
	o.notice(text)
}

func (c *Coordinator) OnConnect(id ConnID) []Delivery {
	o := c.newOutbox(id)
	o.notice(fmt.Sprintf("Connected! Connection ID: %s", id))
	o.emit(Others(), SystemMessage{Text: "A new user connected!"})
	return o.out
}

// OnDisconnect removes the session and the group membership of id. The session
// is removed first and its name is reused for the group notice; a connection
// that never registered leaves anonymously.
func (c *Coordinator) OnDisconnect(id ConnID) []Delivery {
	o := c.newOutbox(id)

	s, registered := c.state.Registry.Remove(id)
	if registered {
		log.Debug().Str("conn_id", string(id)).Str("user", s.UserName).Msg("session removed")
		o.emit(All(), SystemMessage{Text: fmt.Sprintf("%s disconnected.", s.UserName)})
		o.emit(All(), UserListUpdated{Users: c.state.Registry.Snapshot()})
	}

	if group, ok := c.state.Membership.Leave(id); ok {
		text := "A user left the group."
		if registered {
			text = leftGroupText(s.UserName)
		}
		o.emit(Group(group), GroupMessageReceived{From: SystemSender, Text: text})
	}
	return o.out
}

// Register claims userName for id and joins the default group. A second
// Register on an already registered connection is rejected.
func (c *Coordinator) Register(id ConnID, userName string) []Delivery {
	o := c.newOutbox(id)

	s, err := c.register(id, userName)
	if err != nil {
		log.Debug().Err(err).Str("conn_id", string(id)).Msg("registration rejected")
		o.emit(Caller(), RegistrationFailed{Reason: registrationFailure(err)})
		return o.out
	}
	log.Info().Str("conn_id", string(id)).Str("user", s.UserName).Msg("user registered")

	o.emit(Caller(), RegistrationSuccessful{Session: s})
	o.emit(All(), UserListUpdated{Users: c.state.Registry.Snapshot()})
	c.joinGroup(o, s, DefaultGroup)
	o.emit(Others(), SystemMessage{Text: fmt.Sprintf("%s joined the chat!", s.UserName)})
	return o.out
}

func (c *Coordinator) register(id ConnID, userName string) (Session, error) {
	name, err := validUserName(userName)
	if err != nil {
		return Session{}, err
	}
	return c.state.Registry.Register(id, name)
}

func registrationFailure(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateName):
		return "This user name is already in use."
	case errors.Is(err, ErrAlreadyRegistered):
		return "This connection is already registered."
	default:
		return fmt.Sprintf("User name must be between 1 and %d characters.", MaxUserNameLength)
	}
}

func (c *Coordinator) SendMessage(id ConnID, text string) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		o.reject(ErrNotRegistered, "You must register before sending messages.")
		return o.out
	}
	o.emit(All(), MessageReceived{UserName: s.UserName, Text: text})
	return o.out
}

// SendPrivateMessage delivers text to target and echoes it back to the sender
// so both sides of the exchange can be rendered.
func (c *Coordinator) SendPrivateMessage(id, target ConnID, text string) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		o.reject(ErrNotRegistered, "You must register before sending messages.")
		return o.out
	}
	if _, ok := c.state.Registry.Lookup(target); !ok {
		o.reject(ErrRecipientGone, "The recipient is no longer connected.")
		return o.out
	}

	o.emit(Client(target), PrivateMessageReceived{UserName: s.UserName, Text: text, CounterpartyID: id})
	o.emit(Caller(), PrivateMessageReceived{UserName: s.UserName, Text: text, CounterpartyID: target})
	return o.out
}

func (c *Coordinator) JoinGroup(id ConnID, group string) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		o.reject(ErrNotRegistered, "You must register before joining a group.")
		return o.out
	}
	name, err := validGroupName(group)
	if err != nil {
		o.reject(err, fmt.Sprintf("Group name must be between 1 and %d characters.", MaxGroupNameLength))
		return o.out
	}

	c.joinGroup(o, s, name)
	return o.out
}

func (c *Coordinator) joinGroup(o *outbox, s Session, group string) {
	previous, moved := c.state.Membership.Join(s.ConnectionID, group)
	log.Debug().Str("conn_id", string(s.ConnectionID)).Str("group", group).Msg("group joined")

	if moved {
		o.emit(GroupExcept(previous, s.ConnectionID), GroupMessageReceived{From: SystemSender, Text: leftGroupText(s.UserName)})
	}
	o.emit(Group(group), GroupMessageReceived{From: SystemSender, Text: fmt.Sprintf("%s joined the group.", s.UserName)})
	o.emit(Caller(), GroupJoined{Group: group})
}

func leftGroupText(userName string) string {
	return fmt.Sprintf("%s left the group.", userName)
}

func (c *Coordinator) SendGroupMessage(id ConnID, text string) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		o.reject(ErrNotRegistered, "You must register before sending messages.")
		return o.out
	}
	group, ok := c.state.Membership.GroupOf(id)
	if !ok {
		o.reject(ErrNotInGroup, "You have not joined any group.")
		return o.out
	}
	o.emit(Group(group), GroupMessageReceived{From: s.UserName, Text: text})
	return o.out
}

// NotifyTyping is silently ignored for unregistered connections.
func (c *Coordinator) NotifyTyping(id ConnID, isTyping bool) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		return o.out
	}
	evt := UserTyping{UserName: s.UserName, IsTyping: isTyping}
	if group, ok := c.state.Membership.GroupOf(id); ok {
		o.emit(GroupExcept(group, id), evt)
	} else {
		o.emit(Others(), evt)
	}
	return o.out
}

// ShareFile forwards content to the caller's group, or to everyone when the
// caller is in no group. content is passed through untouched.
func (c *Coordinator) ShareFile(id ConnID, fileName, content string) []Delivery {
	o := c.newOutbox(id)

	s, ok := c.state.Registry.Lookup(id)
	if !ok {
		o.reject(ErrNotRegistered, "You must register before sharing files.")
		return o.out
	}
	if err := validFileName(fileName); err != nil {
		o.reject(err, fmt.Sprintf("File name must be between 1 and %d characters and contain no path separators.", MaxFileNameLength))
		return o.out
	}

	evt := FileReceived{
		UserName: s.UserName,
		FileName: fileName,
		Content:  content,
		MimeType: sniffMimeType(content),
	}
	if group, ok := c.state.Membership.GroupOf(id); ok {
		o.emit(Group(group), evt)
	} else {
		o.emit(All(), evt)
	}
	return o.out
}

// sniffMimeType detects the type of base64 content, accepting data URLs. It
// returns "" when content is not base64.
func sniffMimeType(content string) string {
	if strings.HasPrefix(content, "data:") {
		if _, payload, found := strings.Cut(content, ","); found {
			content = payload
		}
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil || len(raw) == 0 {
		return ""
	}
	return mimetype.Detect(raw).String()
}
