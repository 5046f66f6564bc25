package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.PeersConnected == nil {
		t.Error("PeersConnected metric is nil")
	}
	if m.BytesSent == nil {
		t.Error("BytesSent metric is nil")
	}
}

func TestRecordConnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordConnect(0.05)
	m.RecordConnect(0.1)
	m.RecordConnect(0.02)

	peersConnected := testutil.ToFloat64(m.PeersConnected)
	if peersConnected != 3 {
		t.Errorf("PeersConnected = %v, want 3", peersConnected)
	}
	peersTotal := testutil.ToFloat64(m.PeersTotal)
	if peersTotal != 3 {
		t.Errorf("PeersTotal = %v, want 3", peersTotal)
	}
}

func TestRecordDisconnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordConnect(0.05)
	m.RecordConnect(0.05)

	m.RecordDisconnect("timeout")

	peersConnected := testutil.ToFloat64(m.PeersConnected)
	if peersConnected != 1 {
		t.Errorf("PeersConnected = %v, want 1", peersConnected)
	}

	timeouts := testutil.ToFloat64(m.PeerDisconnects.WithLabelValues("timeout"))
	if timeouts != 1 {
		t.Errorf("PeerDisconnects[timeout] = %v, want 1", timeouts)
	}
}

func TestRecordHandshakeRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHandshakeRejection("wrong_game_id")
	m.RecordHandshakeRejection("wrong_game_id")
	m.RecordHandshakeRejection("rate_limited")

	wrongGame := testutil.ToFloat64(m.HandshakeRejections.WithLabelValues("wrong_game_id"))
	if wrongGame != 2 {
		t.Errorf("HandshakeRejections[wrong_game_id] = %v, want 2", wrongGame)
	}
	rateLimited := testutil.ToFloat64(m.HandshakeRejections.WithLabelValues("rate_limited"))
	if rateLimited != 1 {
		t.Errorf("HandshakeRejections[rate_limited] = %v, want 1", rateLimited)
	}
}

func TestRecordKeepalive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordKeepaliveSent()
	m.RecordKeepaliveSent()
	m.RecordKeepaliveReceived()

	sent := testutil.ToFloat64(m.KeepalivesSent)
	if sent != 2 {
		t.Errorf("KeepalivesSent = %v, want 2", sent)
	}
	recv := testutil.ToFloat64(m.KeepalivesReceived)
	if recv != 1 {
		t.Errorf("KeepalivesReceived = %v, want 1", recv)
	}
}

func TestRecordGameData(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordGameDataSent(100)
	m.RecordGameDataSent(50)
	m.RecordGameDataReceived(200)

	sent := testutil.ToFloat64(m.GameDataSent)
	if sent != 2 {
		t.Errorf("GameDataSent = %v, want 2", sent)
	}
	bytesSent := testutil.ToFloat64(m.BytesSent)
	if bytesSent != 150 {
		t.Errorf("BytesSent = %v, want 150", bytesSent)
	}
	bytesRecv := testutil.ToFloat64(m.BytesReceived)
	if bytesRecv != 200 {
		t.Errorf("BytesReceived = %v, want 200", bytesRecv)
	}
}

func TestRecordPacketDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPacketDropped("decode_error")
	m.RecordPacketDropped("decode_error")
	m.RecordPacketDropped("auth_failed")

	decodeErrors := testutil.ToFloat64(m.PacketsDropped.WithLabelValues("decode_error"))
	if decodeErrors != 2 {
		t.Errorf("PacketsDropped[decode_error] = %v, want 2", decodeErrors)
	}
	authFailed := testutil.ToFloat64(m.PacketsDropped.WithLabelValues("auth_failed"))
	if authFailed != 1 {
		t.Errorf("PacketsDropped[auth_failed] = %v, want 1", authFailed)
	}
}

func TestRecordRateLimitRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRateLimitRejection()
	m.RecordRateLimitRejection()

	rejections := testutil.ToFloat64(m.RateLimitRejections)
	if rejections != 2 {
		t.Errorf("RateLimitRejections = %v, want 2", rejections)
	}
}

func TestDefaultMetrics(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
	if m1 == nil {
		t.Error("Default() returned nil")
	}
}
