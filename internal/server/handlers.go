// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, stats, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades GET requests to WebSocket and hands the new client
// to the hub, which starts its pumps and announces the connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.coordinator, r.RemoteAddr, s.cfg)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}

// Stats is the body served by StatsHandler.
type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	Groups      map[string]int `json:"groups"`
}

// StatsHandler reports open connections, registered users and group sizes.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	state := s.coordinator.State()
	stats := Stats{
		Connections: s.hub.ClientCount(),
		Users:       state.Registry.Len(),
		Groups:      state.Membership.Groups(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Warn().Err(err).Msg("error writing stats response")
	}
}

// TestPageHandler serves an HTML page for exercising the chat protocol by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Warn().Err(err).Msg("error writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>relaychat test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .row { margin: 6px 0; }
        .system { color: gray; font-style: italic; }
        .group { color: green; }
        .private { color: purple; }
    </style>
</head>
<body>
    <h1>relaychat</h1>

    <div class="row">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <input type="text" id="userName" placeholder="User name">
        <button onclick="send({type: 'register', userName: val('userName')})">Register</button>
    </div>
    <div class="row">
        <input type="text" id="groupName" placeholder="Group">
        <button onclick="send({type: 'join_group', groupName: val('groupName')})">Join group</button>
    </div>
    <div class="row">
        <input type="text" id="text" placeholder="Message" oninput="typing()">
        <button onclick="send({type: 'send_message', text: val('text')})">To all</button>
        <button onclick="send({type: 'send_group_message', text: val('text')})">To group</button>
        <input type="text" id="targetId" placeholder="Connection ID">
        <button onclick="send({type: 'send_private_message', targetId: val('targetId'), text: val('text')})">Private</button>
    </div>
    <div class="row">
        <input type="file" id="file">
        <button onclick="shareFile()">Share file</button>
    </div>
    <div id="users"></div>
    <div id="messages"></div>

    <script>
        let ws = null;
        let typingTimer = null;
        const messagesDiv = document.getElementById('messages');

        function val(id) { return document.getElementById(id).value; }

        function addLine(text, cls) {
            const line = document.createElement('div');
            line.className = cls || '';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(frame) {
            const d = frame.data;
            switch (frame.event) {
                case 'ReceiveSystemMessage': addLine(d.text, 'system'); break;
                case 'UpdateUserList':
                    document.getElementById('users').textContent =
                        'Online: ' + d.users.map(u => u.userName + ' (' + u.connectionId + ')').join(', ');
                    break;
                case 'RegistrationFailed': addLine('Registration failed: ' + d.reason, 'system'); break;
                case 'RegistrationSuccessful': addLine('Registered as ' + d.session.userName, 'system'); break;
                case 'ReceiveMessage': addLine(d.userName + ': ' + d.text); break;
                case 'ReceivePrivateMessage': addLine('[private] ' + d.userName + ': ' + d.text, 'private'); break;
                case 'ReceiveGroupMessage': addLine('[group] ' + d.from + ': ' + d.text, 'group'); break;
                case 'JoinedGroup': addLine('Joined group ' + d.group, 'system'); break;
                case 'UserTyping': if (d.isTyping) { addLine(d.userName + ' is typing...', 'system'); } break;
                case 'ReceiveFile': addLine(d.userName + ' shared ' + d.fileName + ' (' + (d.mimeType || 'unknown') + ')'); break;
                default: addLine(JSON.stringify(frame));
            }
        }

        function connect() {
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = () => { document.getElementById('connectButton').textContent = 'Disconnect'; };
            ws.onmessage = (event) => {
                event.data.split('\n').forEach(line => { if (line) { render(JSON.parse(line)); } });
            };
            ws.onclose = () => {
                addLine('Connection closed', 'system');
                document.getElementById('connectButton').textContent = 'Connect';
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function send(cmd) {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.send(JSON.stringify(cmd)); }
        }

        function typing() {
            send({type: 'notify_typing', isTyping: true});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send({type: 'notify_typing', isTyping: false}), 1500);
        }

        function shareFile() {
            const file = document.getElementById('file').files[0];
            if (!file) { return; }
            const reader = new FileReader();
            reader.onload = () => send({type: 'share_file', fileName: file.name, content: reader.result});
            reader.readAsDataURL(file);
        }
    </script>
</body>
</html>`
