package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/ajtruex/agenttrafficcontrol/internal/config"
	"github.com/ajtruex/agenttrafficcontrol/internal/engine"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/transport"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("ATC_BRIDGE_PORT", "9001")
	t.Setenv("ATC_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("ATC_BRIDGE_ENABLED", "false")
	cfg, err := config.NewConfig(t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
	if err := settings.ParseAddress("127.0.0.1:0"); err != nil || settings.Port != 0 {
		t.Fatalf("expected address override, got %d (%v)", settings.Port, err)
	}
}

func TestStartRejectsDisabledBridge(t *testing.T) {
	loop := newTestLoop(t)
	srv := NewServer(Settings{Enabled: false}, loop)
	if err := srv.Start(context.Background()); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestServerServesHealthSnapshotAndIntents(t *testing.T) {
	srv, loop := startBridge(t)
	base := srv.BaseURL()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != string(StatusReady) || health.Version != protocol.Version {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, health)
	}
	if health.InstanceID != srv.InstanceID() || health.InstanceID == "" {
		t.Fatalf("unexpected instance id %q", health.InstanceID)
	}

	resp, err = http.Post(base+"/intents", "application/json", bytes.NewBufferString(`{"type":"set_speed","speed":-2}`))
	if err != nil {
		t.Fatalf("post intent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid speed, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/intents", "application/json", bytes.NewBufferString(`{"type":"set_seed","seed":"bridge"}`))
	if err != nil {
		t.Fatalf("post intent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := fetchSnapshot(t, base)
		if snap.State.Seed == "bridge" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("seed change never reached the engine")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if loop.Snapshot().State.Seed != "bridge" {
		t.Fatalf("loop did not apply the seed")
	}

	resp, err = http.Get(base + "/intents")
	if err != nil {
		t.Fatalf("get intents: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversSnapshotTicksAndAcceptsIntents(t *testing.T) {
	srv, _ := startBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	remote, err := transport.Dial(ctx, srv.BaseURL())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer remote.Close()

	first := nextMessage(t, remote.Messages())
	if snap, ok := first.(protocol.Snapshot); !ok || snap.State.Plan != string(plan.Calm) {
		t.Fatalf("expected Calm snapshot first, got %#v", first)
	}
	if err := remote.Send(ctx, protocol.SetRunning{Running: true}); err != nil {
		t.Fatalf("send running: %v", err)
	}
	for {
		if _, ok := nextMessage(t, remote.Messages()).(protocol.Tick); ok {
			break
		}
	}
	if err := remote.Send(ctx, protocol.SetPlan{Plan: plan.Web}); err != nil {
		t.Fatalf("send plan: %v", err)
	}
	for {
		if snap, ok := nextMessage(t, remote.Messages()).(protocol.Snapshot); ok {
			if snap.State.Plan != string(plan.Web) || snap.TickID != 0 {
				t.Fatalf("unexpected replan snapshot: %s/%d", snap.State.Plan, snap.TickID)
			}
			break
		}
	}
	if srv.Hub().Len() != 1 {
		t.Fatalf("expected one stream subscriber, got %d", srv.Hub().Len())
	}
}

func newTestLoop(t *testing.T) *engine.Loop {
	t.Helper()
	eng, err := engine.New(plan.Calm, "x", engine.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine.NewLoop(eng, nil)
}

func startBridge(t *testing.T) (*Server, *engine.Loop) {
	t.Helper()
	eng, err := engine.New(plan.Calm, "x", engine.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	hub := NewHub(eng.Snapshot, 64, nil)
	loop := engine.NewLoop(eng, hub)
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings, loop, WithHub(hub))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		cancel()
		<-loop.Done()
	})
	return srv, loop
}

func fetchSnapshot(t *testing.T, base string) protocol.Snapshot {
	t.Helper()
	resp, err := http.Get(base + "/snapshot")
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	msg, err := protocol.DecodeMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	snap, ok := msg.(protocol.Snapshot)
	if !ok {
		t.Fatalf("expected snapshot, got %T", msg)
	}
	return snap
}

func nextMessage(t *testing.T, ch <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for stream message")
	}
	return nil
}
