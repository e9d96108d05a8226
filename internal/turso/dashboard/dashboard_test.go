package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mschirtzinger/tally/internal/turso/bootstrap"
	"github.com/mschirtzinger/tally/internal/turso/daemon"
	"github.com/mschirtzinger/tally/internal/turso/migrate"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
)

type snapshot struct {
	Initialized bool `json:"initialized"`
	CloudSync   bool `json:"cloud_sync"`
}

func startServer(t *testing.T, status StatusFunc) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0,
		Status: status,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// dial connects a client and consumes the welcome snapshot.
func dial(t *testing.T, ctx context.Context, server *Server) (*websocket.Conn, Message) {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	welcome := readMessage(t, ctx, conn)
	if welcome.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", welcome.Type, MessageTypeStatus)
	}
	return conn, welcome
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if strings.HasSuffix(server.GetAddr(), ":0") {
		t.Errorf("GetAddr() = %q, want the bound port", server.GetAddr())
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

func TestWelcomeSnapshot(t *testing.T) {
	server := startServer(t, func(context.Context) (interface{}, error) {
		return snapshot{Initialized: true, CloudSync: true}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, welcome := dial(t, ctx, server)

	var snap snapshot
	if err := json.Unmarshal(welcome.Data, &snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if !snap.Initialized || !snap.CloudSync {
		t.Errorf("snapshot = %+v", snap)
	}
	waitForClients(t, server, 1)
}

func TestBroadcastToMultipleClients(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i], _ = dial(t, ctx, server)
	}
	waitForClients(t, server, 3)

	handler := NewHandler(server, log.New(io.Discard, "", 0))
	handler.OnSyncComplete(daemon.TriggerManual, 1500*time.Millisecond)

	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeSyncComplete {
			t.Fatalf("client %d got %s, want %s", i, msg.Type, MessageTypeSyncComplete)
		}
		var data SyncData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
		if data.Trigger != "manual" || data.DurationMS != 1500 {
			t.Errorf("client %d data = %+v", i, data)
		}
	}
}

func TestHandlerMessages(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := dial(t, ctx, server)
	waitForClients(t, server, 1)

	handler := NewHandler(server, log.New(io.Discard, "", 0))

	t.Run("db initialized", func(t *testing.T) {
		handler.OnDBInitialized(&bootstrap.Result{
			Mode:       bootstrap.ModeCloud,
			CloudSync:  true,
			SyncURL:    "libsql://ledger.example.com",
			Recovered:  true,
			Quarantine: &bootstrap.QuarantineReport{LegacyPath: "/data/accounts.db.legacy", Renamed: true},
			Elapsed:    250 * time.Millisecond,
		})

		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeDBInitialized {
			t.Fatalf("type = %s", msg.Type)
		}
		var data DBInitializedData
		_ = json.Unmarshal(msg.Data, &data)
		if data.Mode != "cloud" || !data.Recovered || data.LegacyPath == "" || data.DurationMS != 250 {
			t.Errorf("data = %+v", data)
		}
	})

	t.Run("sync failed", func(t *testing.T) {
		handler.OnSyncFailed(daemon.TriggerPeriodic, errors.New("connection reset"))

		msg := readMessage(t, ctx, conn)
		var data SyncData
		_ = json.Unmarshal(msg.Data, &data)
		if msg.Type != MessageTypeSyncFailed || data.Error != "connection reset" {
			t.Errorf("got %s %+v", msg.Type, data)
		}
	})

	t.Run("config changed", func(t *testing.T) {
		handler.OnConfigChanged(syncconfig.Event{
			Op:     syncconfig.OpWrite,
			Config: &syncconfig.SyncConfig{URL: "libsql://ledger.example.com", Token: "secret-token"},
		})

		msg := readMessage(t, ctx, conn)
		if strings.Contains(string(msg.Data), "secret-token") {
			t.Fatal("token forwarded to clients")
		}
		var data ConfigChangedData
		_ = json.Unmarshal(msg.Data, &data)
		if data.Action != "written" || !data.Enabled || !data.RestartRequired {
			t.Errorf("data = %+v", data)
		}
	})

	t.Run("legacy migrated", func(t *testing.T) {
		handler.OnLegacyMigrated(&migrate.Result{Categories: 6, Transactions: 10})

		msg := readMessage(t, ctx, conn)
		var data LegacyMigratedData
		_ = json.Unmarshal(msg.Data, &data)
		if msg.Type != MessageTypeLegacyMigrated || data.Transactions != 10 || data.Summary == "" {
			t.Errorf("got %s %+v", msg.Type, data)
		}
	})
}

func TestHealthAndStatus(t *testing.T) {
	server := startServer(t, func(context.Context) (interface{}, error) {
		return snapshot{Initialized: true}, nil
	})

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status returned %d", resp.StatusCode)
	}
	var snap snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if !snap.Initialized {
		t.Errorf("status = %+v", snap)
	}
}

func TestStatus_Unavailable(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/status returned %d, want 503", resp.StatusCode)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := dial(t, ctx, server)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func TestBroadcastAfterStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	_ = server.Stop()

	// Must not block or panic.
	server.Broadcast(Message{Type: MessageTypeSyncComplete})
}

func TestMetricsRoute(t *testing.T) {
	server := startServer(t, nil)
	resp, err := http.Get("http://" + server.GetAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/metrics without a handler returned %d, want 404", resp.StatusCode)
	}

	mounted := NewServer(&Config{
		Port: 0,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "tally_up 1\n")
		}),
		Logger: log.New(io.Discard, "", 0),
	})
	if err := mounted.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer mounted.Stop()

	resp, err = http.Get("http://" + mounted.GetAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "tally_up 1\n" {
		t.Errorf("/metrics = %d %q", resp.StatusCode, body)
	}
}
