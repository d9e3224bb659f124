package session

import (
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recipients returns who received events named name, in delivery order.
func recipients(ds []Delivery, name EventName) []ConnID {
	var out []ConnID
	for _, d := range ds {
		if d.Event.Name() == name {
			out = append(out, d.To)
		}
	}
	return out
}

// eventsFor returns the events addressed to id, in delivery order.
func eventsFor(ds []Delivery, id ConnID) []Event {
	var out []Event
	for _, d := range ds {
		if d.To == id {
			out = append(out, d.Event)
		}
	}
	return out
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewState())
}

// registered connects and registers one user per name.
func registered(t *testing.T, c *Coordinator, names ...string) []ConnID {
	t.Helper()
	ids := make([]ConnID, len(names))
	for i, name := range names {
		ids[i] = newConnID()
		c.OnConnect(ids[i])
		ds := c.Register(ids[i], name)
		require.Contains(t, eventsFor(ds, ids[i]), Event(RegistrationSuccessful{Session: Session{ConnectionID: ids[i], UserName: name, Registered: true}}))
	}
	return ids
}

func TestCoordinator_OnConnect(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	newcomer := newConnID()

	ds := c.OnConnect(newcomer)

	req.Equal([]Event{SystemMessage{Text: "Connected! Connection ID: " + string(newcomer)}}, eventsFor(ds, newcomer))
	req.Equal([]Event{SystemMessage{Text: "A new user connected!"}}, eventsFor(ds, ids[0]))
	req.Len(ds, 2)
}

func TestCoordinator_Register_Success(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	bob := newConnID()

	// When bob registers
	ds := c.Register(bob, "bob")

	// Then bob receives, in order: success, roster, group join notice, joined group
	bobEvents := eventsFor(ds, bob)
	req.Len(bobEvents, 4)
	req.Equal(RegistrationSuccessful{Session: Session{ConnectionID: bob, UserName: "bob", Registered: true}}, bobEvents[0])
	roster, ok := bobEvents[1].(UserListUpdated)
	req.True(ok)
	req.Len(roster.Users, 2)
	req.Equal(GroupMessageReceived{From: SystemSender, Text: "bob joined the group."}, bobEvents[2])
	req.Equal(GroupJoined{Group: DefaultGroup}, bobEvents[3])

	// And alice receives the roster, the group notice and the chat notice
	aliceEvents := eventsFor(ds, ids[0])
	req.Len(aliceEvents, 3)
	req.IsType(UserListUpdated{}, aliceEvents[0])
	req.Equal(GroupMessageReceived{From: SystemSender, Text: "bob joined the group."}, aliceEvents[1])
	req.Equal(SystemMessage{Text: "bob joined the chat!"}, aliceEvents[2])

	group, ok := c.State().Membership.GroupOf(bob)
	req.True(ok)
	req.Equal(DefaultGroup, group)
}

func TestCoordinator_Register_Duplicate_Name(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "bob")
	other := newConnID()

	ds := c.Register(other, "bob")

	req.Len(ds, 1)
	req.Equal(other, ds[0].To)
	failed, ok := ds[0].Event.(RegistrationFailed)
	req.True(ok)
	req.Contains(failed.Reason, "already in use")

	_, ok = c.State().Registry.Lookup(other)
	req.False(ok)
	s, _ := c.State().Registry.Lookup(ids[0])
	req.Equal("bob", s.UserName)
}

func TestCoordinator_Register_Invalid_Name(t *testing.T) {
	tests := []struct {
		name     string
		userName string
	}{
		{"empty", ""},
		{"blank", "  \t"},
		{"too long", strings.Repeat("x", MaxUserNameLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator()
			id := newConnID()

			ds := c.Register(id, tt.userName)

			require.Len(t, ds, 1)
			require.Equal(t, EventRegistrationFailed, ds[0].Event.Name())
			require.Zero(t, c.State().Registry.Len())
		})
	}
}

func TestCoordinator_Register_Twice_Is_Rejected(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")

	ds := c.Register(ids[0], "alice-again")

	req.Equal([]Event{RegistrationFailed{Reason: "This connection is already registered."}}, eventsFor(ds, ids[0]))
	req.Len(ds, 1)
	s, _ := c.State().Registry.Lookup(ids[0])
	req.Equal("alice", s.UserName)
}

func TestCoordinator_Register_Name_Available_After_Disconnect(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	other := newConnID()

	req.Equal(EventRegistrationFailed, c.Register(other, "alice")[0].Event.Name())

	c.OnDisconnect(ids[0])

	ds := c.Register(other, "alice")
	req.Equal(EventRegistrationSuccessful, eventsFor(ds, other)[0].Name())
}

func TestCoordinator_SendMessage(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob")

	ds := c.SendMessage(ids[0], "hello")

	req.ElementsMatch(ids, recipients(ds, EventMessage))
	req.Equal(MessageReceived{UserName: "alice", Text: "hello"}, ds[0].Event)
}

func TestCoordinator_SendMessage_Unregistered(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	registered(t, c, "alice")
	stranger := newConnID()

	ds := c.SendMessage(stranger, "hello")

	req.Equal([]Delivery{{To: stranger, Event: SystemMessage{Text: "You must register before sending messages."}}}, ds)
	req.Empty(recipients(ds, EventMessage))
}

func TestCoordinator_SendPrivateMessage(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	alice, bob := ids[0], ids[1]

	ds := c.SendPrivateMessage(alice, bob, "psst")

	req.Equal([]Delivery{
		{To: bob, Event: PrivateMessageReceived{UserName: "alice", Text: "psst", CounterpartyID: alice}},
		{To: alice, Event: PrivateMessageReceived{UserName: "alice", Text: "psst", CounterpartyID: bob}},
	}, ds)
}

func TestCoordinator_SendPrivateMessage_Failures(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob")
	alice, bob := ids[0], ids[1]
	stranger := newConnID()

	// Unregistered sender
	ds := c.SendPrivateMessage(stranger, bob, "hi")
	req.Equal([]Delivery{{To: stranger, Event: SystemMessage{Text: "You must register before sending messages."}}}, ds)

	// Recipient gone
	c.OnDisconnect(bob)
	ds = c.SendPrivateMessage(alice, bob, "hi")
	req.Equal([]Delivery{{To: alice, Event: SystemMessage{Text: "The recipient is no longer connected."}}}, ds)
}

func TestCoordinator_JoinGroup_Unregistered(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	stranger := newConnID()

	ds := c.JoinGroup(stranger, "team1")

	req.Equal([]Delivery{{To: stranger, Event: SystemMessage{Text: "You must register before joining a group."}}}, ds)
	_, ok := c.State().Membership.GroupOf(stranger)
	req.False(ok)
}

func TestCoordinator_JoinGroup_Invalid_Name(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")

	ds := c.JoinGroup(ids[0], " ")

	req.Len(ds, 1)
	req.Equal(EventSystemMessage, ds[0].Event.Name())
	group, _ := c.State().Membership.GroupOf(ids[0])
	req.Equal(DefaultGroup, group)
}

func TestCoordinator_Rejoin_Same_Group_Does_Not_Notify_Self_Of_Leaving(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob")
	alice, bob := ids[0], ids[1]

	ds := c.JoinGroup(alice, DefaultGroup)

	left := GroupMessageReceived{From: SystemSender, Text: "alice left the group."}
	req.NotContains(eventsFor(ds, alice), Event(left))
	req.Contains(eventsFor(ds, bob), Event(left))
	req.Contains(eventsFor(ds, alice), Event(GroupJoined{Group: DefaultGroup}))
}

func TestCoordinator_SendGroupMessage(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]
	c.JoinGroup(alice, "team1")
	c.JoinGroup(bob, "team1")

	ds := c.SendGroupMessage(alice, "hi")

	req.ElementsMatch([]ConnID{alice, bob}, recipients(ds, EventGroupMessage))
	req.Empty(eventsFor(ds, carol))
	for _, d := range ds {
		req.Equal(GroupMessageReceived{From: "alice", Text: "hi"}, d.Event)
	}
}

func TestCoordinator_SendGroupMessage_Preconditions(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	stranger := newConnID()

	ds := c.SendGroupMessage(stranger, "hi")
	req.Equal([]Delivery{{To: stranger, Event: SystemMessage{Text: "You must register before sending messages."}}}, ds)

	// A registered user whose membership vanished
	c.State().Membership.Leave(ids[0])
	ds = c.SendGroupMessage(ids[0], "hi")
	req.Equal([]Delivery{{To: ids[0], Event: SystemMessage{Text: "You have not joined any group."}}}, ds)
}

func TestCoordinator_NotifyTyping_In_Group(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol", "dave")
	alice, bob, carol, dave := ids[0], ids[1], ids[2], ids[3]
	c.JoinGroup(alice, "team1")
	c.JoinGroup(bob, "team1")
	c.JoinGroup(carol, "team1")

	ds := c.NotifyTyping(alice, true)

	req.ElementsMatch([]ConnID{bob, carol}, recipients(ds, EventUserTyping))
	req.Empty(eventsFor(ds, alice))
	req.Empty(eventsFor(ds, dave))
	req.Equal(UserTyping{UserName: "alice", IsTyping: true}, ds[0].Event)
}

func TestCoordinator_NotifyTyping_Without_Group(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	c.State().Membership.Leave(ids[0])

	ds := c.NotifyTyping(ids[0], false)

	req.ElementsMatch([]ConnID{ids[1], ids[2]}, recipients(ds, EventUserTyping))
}

func TestCoordinator_NotifyTyping_Unregistered_Is_Silent(t *testing.T) {
	c := newTestCoordinator()
	registered(t, c, "alice")

	require.Empty(t, c.NotifyTyping(newConnID(), true))
}

func TestCoordinator_ShareFile(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]
	c.JoinGroup(alice, "team1")
	c.JoinGroup(bob, "team1")
	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\n%âãÏÓ\n"))

	ds := c.ShareFile(alice, "report.pdf", content)

	req.ElementsMatch([]ConnID{alice, bob}, recipients(ds, EventFile))
	req.Empty(eventsFor(ds, carol))
	file, ok := ds[0].Event.(FileReceived)
	req.True(ok)
	req.Equal("alice", file.UserName)
	req.Equal("report.pdf", file.FileName)
	req.Equal(content, file.Content)
	req.Equal("application/pdf", file.MimeType)
}

func TestCoordinator_ShareFile_Without_Group_Goes_To_All(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob")
	c.State().Membership.Leave(ids[0])

	ds := c.ShareFile(ids[0], "notes.txt", "not base64!")

	req.ElementsMatch(ids, recipients(ds, EventFile))
	file := ds[0].Event.(FileReceived)
	req.Empty(file.MimeType)
}

func TestCoordinator_ShareFile_Rejections(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	stranger := newConnID()

	ds := c.ShareFile(stranger, "a.txt", "")
	req.Equal([]Delivery{{To: stranger, Event: SystemMessage{Text: "You must register before sharing files."}}}, ds)

	for _, name := range []string{"", "../etc/passwd", `dir\file`} {
		ds = c.ShareFile(ids[0], name, "")
		req.Len(ds, 1)
		req.Equal(EventSystemMessage, ds[0].Event.Name())
	}
}

func TestSniffMimeType(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	encoded := base64.StdEncoding.EncodeToString(png)

	require.Equal(t, "image/png", sniffMimeType(encoded))
	require.Equal(t, "image/png", sniffMimeType("data:image/png;base64,"+encoded))
	require.Empty(t, sniffMimeType(""))
	require.Empty(t, sniffMimeType("%%%"))
}

func TestCoordinator_OnDisconnect_Registered_Grouped_User(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]
	c.JoinGroup(alice, "team1")
	c.JoinGroup(bob, "team1")

	ds := c.OnDisconnect(alice)

	// System notice and roster to every remaining registered user
	req.ElementsMatch([]ConnID{bob, carol}, recipients(ds, EventSystemMessage))
	req.ElementsMatch([]ConnID{bob, carol}, recipients(ds, EventUserList))
	// Left-group notice only to the remaining members of team1
	req.Equal([]ConnID{bob}, recipients(ds, EventGroupMessage))
	req.Contains(eventsFor(ds, bob), Event(GroupMessageReceived{From: SystemSender, Text: "alice left the group."}))
	req.Empty(eventsFor(ds, alice))

	roster := eventsFor(ds, carol)[1].(UserListUpdated)
	req.Len(roster.Users, 2)

	_, ok := c.State().Registry.Lookup(alice)
	req.False(ok)
	_, ok = c.State().Membership.GroupOf(alice)
	req.False(ok)
}

func TestCoordinator_OnDisconnect_Unregistered(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	registered(t, c, "alice")
	stranger := newConnID()
	c.OnConnect(stranger)

	req.Empty(c.OnDisconnect(stranger))
}

func TestCoordinator_OnDisconnect_Anonymous_Group_Leave(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice")
	ghost := newConnID()
	c.State().Membership.Join(ghost, DefaultGroup)

	ds := c.OnDisconnect(ghost)

	req.Equal([]Delivery{{To: ids[0], Event: GroupMessageReceived{From: SystemSender, Text: "A user left the group."}}}, ds)
}

func TestCoordinator_Scenario(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	ids := registered(t, c, "alice", "bob", "carol")
	a, b, cc := ids[0], ids[1], ids[2]

	// A cannot take bob's name
	ds := c.Register(a, "bob")
	req.Len(ds, 1)
	req.Equal(a, ds[0].To)
	req.Contains(ds[0].Event.(RegistrationFailed).Reason, "already in use")
	s, _ := c.State().Registry.Lookup(b)
	req.Equal("bob", s.UserName)

	c.JoinGroup(a, "team1")
	c.JoinGroup(b, "team1")

	// Group message reaches both members and nobody else
	ds = c.SendGroupMessage(a, "hi")
	req.ElementsMatch([]ConnID{a, b}, recipients(ds, EventGroupMessage))
	req.Equal(GroupMessageReceived{From: "alice", Text: "hi"}, ds[0].Event)
	req.Empty(eventsFor(ds, cc))

	// bob moves to team2
	ds = c.JoinGroup(b, "team2")
	req.Equal([]Event{GroupMessageReceived{From: SystemSender, Text: "bob left the group."}}, eventsFor(ds, a))
	req.Equal([]Event{
		GroupMessageReceived{From: SystemSender, Text: "bob joined the group."},
		GroupJoined{Group: "team2"},
	}, eventsFor(ds, b))
	req.Empty(eventsFor(ds, cc))
}

func TestCoordinator_Concurrent_Registration_Same_Name(t *testing.T) {
	req := require.New(t)
	c := newTestCoordinator()
	const contenders = 32

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won []ConnID
	)
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func() {
			defer wg.Done()
			id := newConnID()
			ds := c.Register(id, "dave")
			if recipients(ds, EventRegistrationSuccessful) != nil {
				mu.Lock()
				won = append(won, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Len(won, 1)
	req.Equal(1, c.State().Registry.Len())
}
