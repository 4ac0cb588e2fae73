package sshcmd

import (
	"errors"
	"strings"
	"testing"

	"portpilot/internal/models"
)

func testHost() *models.Host {
	return &models.Host{
		ID:       1,
		Name:     "staging",
		Hostname: "bastion.example.com",
		Port:     2222,
		Username: "deploy",
	}
}

func TestBuildArgsLocalTunnel(t *testing.T) {
	host := testHost()
	tunnel := &models.Tunnel{
		ID:         1,
		Type:       models.TunnelLocal,
		LocalPort:  8080,
		RemoteHost: "db.internal",
		RemotePort: 5432,
	}

	args, err := BuildArgs(host, tunnel)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	got := strings.Join(args, " ")
	want := "-L 8080:db.internal:5432 -N -o ExitOnForwardFailure=yes deploy@bastion.example.com -p 2222"
	if got != want {
		t.Errorf("unexpected argv:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildArgsRemoteTunnelWithBindAddress(t *testing.T) {
	host := testHost()
	tunnel := &models.Tunnel{
		Type:        models.TunnelRemote,
		BindAddress: "0.0.0.0",
		LocalPort:   9000,
		RemoteHost:  "localhost",
		RemotePort:  3000,
	}

	args, err := BuildArgs(host, tunnel)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-R 0.0.0.0:9000:localhost:3000") {
		t.Errorf("expected bind address in forward spec, got: %s", joined)
	}
}

func TestBuildArgsDynamicTunnel(t *testing.T) {
	host := testHost()
	tunnel := &models.Tunnel{
		Type:      models.TunnelDynamic,
		LocalPort: 1080,
	}

	args, err := BuildArgs(host, tunnel)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-D 1080") {
		t.Errorf("expected -D 1080, got: %s", joined)
	}
}

func TestBuildArgsDynamicRejectsRemoteEndpoint(t *testing.T) {
	host := testHost()
	tunnel := &models.Tunnel{
		Type:       models.TunnelDynamic,
		LocalPort:  1080,
		RemoteHost: "db.internal",
		RemotePort: 5432,
	}

	if _, err := BuildArgs(host, tunnel); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("expected ErrInvalidDefinition, got: %v", err)
	}
}

func TestBuildArgsIdentityAndKeepalive(t *testing.T) {
	host := testHost()
	host.IdentityFile = "/home/deploy/.ssh/id_ed25519"
	host.KeepaliveInterval = 30
	tunnel := &models.Tunnel{
		Type:       models.TunnelLocal,
		LocalPort:  8080,
		RemoteHost: "db.internal",
		RemotePort: 5432,
	}

	args, err := BuildArgs(host, tunnel)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-i /home/deploy/.ssh/id_ed25519") {
		t.Errorf("expected identity file option, got: %s", joined)
	}
	if !strings.Contains(joined, "ServerAliveInterval=30") {
		t.Errorf("expected keepalive interval option, got: %s", joined)
	}
	if !strings.Contains(joined, "ServerAliveCountMax=3") {
		t.Errorf("expected default count max, got: %s", joined)
	}
}

func TestBuildArgsExtraArgsBeforeDestination(t *testing.T) {
	host := testHost()
	host.ExtraArgs = "-o Compression=yes -4"
	tunnel := &models.Tunnel{
		Type:       models.TunnelLocal,
		LocalPort:  8080,
		RemoteHost: "db.internal",
		RemotePort: 5432,
	}

	args, err := BuildArgs(host, tunnel)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-o Compression=yes -4 deploy@bastion.example.com") {
		t.Errorf("extra args must come right before destination, got: %s", joined)
	}
}

func TestBuildArgsValidation(t *testing.T) {
	cases := []struct {
		name   string
		host   *models.Host
		tunnel *models.Tunnel
	}{
		{
			name:   "empty hostname",
			host:   &models.Host{Username: "deploy"},
			tunnel: &models.Tunnel{Type: models.TunnelLocal, LocalPort: 8080, RemoteHost: "db", RemotePort: 5432},
		},
		{
			name:   "empty username",
			host:   &models.Host{Hostname: "bastion.example.com"},
			tunnel: &models.Tunnel{Type: models.TunnelLocal, LocalPort: 8080, RemoteHost: "db", RemotePort: 5432},
		},
		{
			name:   "local port out of range",
			host:   testHost(),
			tunnel: &models.Tunnel{Type: models.TunnelLocal, LocalPort: 70000, RemoteHost: "db", RemotePort: 5432},
		},
		{
			name:   "local tunnel without remote host",
			host:   testHost(),
			tunnel: &models.Tunnel{Type: models.TunnelLocal, LocalPort: 8080, RemotePort: 5432},
		},
		{
			name:   "unknown tunnel type",
			host:   testHost(),
			tunnel: &models.Tunnel{Type: "socks", LocalPort: 8080},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildArgs(tc.host, tc.tunnel); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("expected ErrInvalidDefinition, got: %v", err)
			}
		})
	}
}

func TestFindSSHMissingBinary(t *testing.T) {
	if _, err := FindSSH("definitely-not-a-real-ssh-binary"); !errors.Is(err, ErrSSHNotFound) {
		t.Errorf("expected ErrSSHNotFound, got: %v", err)
	}
}
