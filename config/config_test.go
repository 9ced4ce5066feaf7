package config

import (
	"strings"
	"testing"
	"time"

	"github.com/chromefleet/chromefleet/types"
)

func TestDefaultConfigValidates(t *testing.T) {
	conf := DefaultConfig()
	if err := conf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if conf.MemoryBytes() != 2<<30 {
		t.Fatalf("MemoryBytes = %d, want 2GiB", conf.MemoryBytes())
	}
	if conf.StorageBytes() != 4<<30 {
		t.Fatalf("StorageBytes = %d, want 4GiB", conf.StorageBytes())
	}
	p := conf.Profile()
	if p.Memory != conf.MemoryBytes() || p.CPUs != conf.CPUs || p.Storage != conf.StorageBytes() {
		t.Fatalf("Profile = %+v", p)
	}
	if conf.ReadyInterval() != time.Second {
		t.Fatalf("ReadyInterval = %s", conf.ReadyInterval())
	}
	if !strings.HasSuffix(conf.RunLock(), "chromefleet.lock") {
		t.Fatalf("RunLock = %q", conf.RunLock())
	}
}

func TestValidateRejectsBadImage(t *testing.T) {
	conf := DefaultConfig()
	conf.ChromeImage = "UPPER CASE not an image ref"
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for invalid image reference")
	}
}

func TestValidateRejectsBadSizes(t *testing.T) {
	conf := DefaultConfig()
	conf.Memory = "lots"
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for unparseable memory")
	}

	conf = DefaultConfig()
	conf.Storage = "-3 bananas"
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for unparseable storage")
	}
}

func TestValidateServers(t *testing.T) {
	conf := DefaultConfig()
	conf.Servers = []ServerConfig{
		{ID: "srv-local", Provider: types.ProviderContainer},
		{ID: "srv-cf", Provider: types.ProviderEdgeWorker, BaseURL: "https://edge.example.com"},
		{ID: "srv-mock", Provider: types.ProviderMock},
	}
	if err := conf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsDuplicateServerIDs(t *testing.T) {
	conf := DefaultConfig()
	conf.Servers = []ServerConfig{
		{ID: "srv-a", Provider: types.ProviderContainer},
		{ID: "srv-a", Provider: types.ProviderMock},
	}
	if err := conf.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate server id error", err)
	}
}

func TestValidateRemoteRequiresBaseURL(t *testing.T) {
	for _, kind := range []types.ProviderKind{
		types.ProviderEdgeWorker,
		types.ProviderCloudCompute,
		types.ProviderPlatformProxy,
	} {
		conf := DefaultConfig()
		conf.Servers = []ServerConfig{{ID: "srv-x", Provider: kind}}
		if err := conf.Validate(); err == nil {
			t.Errorf("%s server without base_url validated", kind)
		}
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	conf := DefaultConfig()
	conf.Servers = []ServerConfig{{ID: "srv-x", Provider: "metal"}}
	if err := conf.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestServerTimeout(t *testing.T) {
	s := ServerConfig{TimeoutSeconds: 5}
	if got := s.Timeout(30 * time.Second); got != 5*time.Second {
		t.Fatalf("Timeout = %s, want 5s", got)
	}
	s.TimeoutSeconds = 0
	if got := s.Timeout(30 * time.Second); got != 30*time.Second {
		t.Fatalf("Timeout fallback = %s, want 30s", got)
	}
}
