package session

// EventName is the client-facing name of an outbound event.
type EventName string

const (
	EventSystemMessage          EventName = "ReceiveSystemMessage"
	EventUserList               EventName = "UpdateUserList"
	EventRegistrationFailed     EventName = "RegistrationFailed"
	EventRegistrationSuccessful EventName = "RegistrationSuccessful"
	EventMessage                EventName = "ReceiveMessage"
	EventPrivateMessage         EventName = "ReceivePrivateMessage"
	EventGroupMessage           EventName = "ReceiveGroupMessage"
	EventJoinedGroup            EventName = "JoinedGroup"
	EventUserTyping             EventName = "UserTyping"
	EventFile                   EventName = "ReceiveFile"
)

// Event is the closed set of outbound events. Only types in this package
// implement it.
type Event interface {
	Name() EventName
	event()
}

type SystemMessage struct {
	Text string `json:"text"`
}

type UserListUpdated struct {
	Users []Session `json:"users"`
}

type RegistrationFailed struct {
	Reason string `json:"reason"`
}

type RegistrationSuccessful struct {
	Session Session `json:"session"`
}

type MessageReceived struct {
	UserName string `json:"userName"`
	Text     string `json:"text"`
}

// PrivateMessageReceived carries the id of the other side of the exchange:
// the sender for the recipient's copy and the recipient for the sender's echo.
type PrivateMessageReceived struct {
	UserName       string `json:"userName"`
	Text           string `json:"text"`
	CounterpartyID ConnID `json:"counterpartyId"`
}

type GroupMessageReceived struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type GroupJoined struct {
	Group string `json:"group"`
}

type UserTyping struct {
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type FileReceived struct {
	UserName string `json:"userName"`
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`
}

func (SystemMessage) Name() EventName          { return EventSystemMessage }
func (UserListUpdated) Name() EventName        { return EventUserList }
func (RegistrationFailed) Name() EventName     { return EventRegistrationFailed }
func (RegistrationSuccessful) Name() EventName { return EventRegistrationSuccessful }
func (MessageReceived) Name() EventName        { return EventMessage }
func (PrivateMessageReceived) Name() EventName { return EventPrivateMessage }
func (GroupMessageReceived) Name() EventName   { return EventGroupMessage }
func (GroupJoined) Name() EventName            { return EventJoinedGroup }
func (UserTyping) Name() EventName             { return EventUserTyping }
func (FileReceived) Name() EventName           { return EventFile }

func (SystemMessage) event()          {}
func (UserListUpdated) event()        {}
func (RegistrationFailed) event()     {}
func (RegistrationSuccessful) event() {}
func (MessageReceived) event()        {}
func (PrivateMessageReceived) event() {}
func (GroupMessageReceived) event()   {}
func (GroupJoined) event()            {}
func (UserTyping) event()             {}
func (FileReceived) event()           {}

// Delivery is one event addressed to one connection.
type Delivery struct {
	To    ConnID
	Event Event
}
