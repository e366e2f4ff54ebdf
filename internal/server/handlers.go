// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and hands it to the hub, which
// launches the read/write pumps. The connection starts unauthenticated.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h := activeHub()
	client := NewClient(conn, h, r.RemoteAddr)

	// Register the client with the hub; the hub will launch the pump goroutines.
	h.register <- client
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the relay is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Loom relay is running!")
}

// TestPageHandler serves an HTML test page for exercising the relay protocol.
// It provides a minimal interface to register an account, log in, watch
// presence updates, and send direct messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Loom Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #logLines {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { padding: 5px; margin-right: 6px; }
        button { padding: 5px 15px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Loom Relay Test</h1>
    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="password" id="password" placeholder="Password">
        <button onclick="send({type:'registerAccount',username:username.value,password:password.value})">Register</button>
        <button onclick="send({type:'login',username:username.value,password:password.value,publicKey:null})">Login</button>
        <button onclick="send({type:'logout'})">Logout</button>
    </div>
    <div>
        <input type="text" id="recipient" placeholder="To">
        <input type="text" id="payload" placeholder="Payload">
        <button onclick="send({type:'message',to:recipient.value,payload:payload.value})">Send</button>
    </div>
    <div id="logLines"></div>

    <script>
        const logLines = document.getElementById('logLines');
        function logLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logLines.appendChild(line);
            logLines.scrollTop = logLines.scrollHeight;
        }

        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onopen = () => logLine('connected');
        ws.onclose = () => logLine('disconnected');
        ws.onmessage = (event) => logLine('<< ' + event.data);

        function send(envelope) {
            if (ws.readyState !== WebSocket.OPEN) {
                logLine('not connected');
                return;
            }
            const frame = JSON.stringify(envelope);
            ws.send(frame);
            logLine('>> ' + frame);
        }
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
