package ssh

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shipshape-io/shipshape/pkg/ops"
)

func TestRenderCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      ops.Command
		password string
		want     string
	}{
		{
			name: "plain",
			cmd:  ops.Command{Cmd: "uptime"},
			want: "uptime",
		},
		{
			name: "sudo passwordless",
			cmd:  ops.Command{Cmd: "apt-get update", Sudo: true},
			want: "sudo apt-get update",
		},
		{
			name:     "sudo with password",
			cmd:      ops.Command{Cmd: "apt-get update", Sudo: true},
			password: "hunter2",
			want:     "echo 'hunter2' | sudo -S apt-get update",
		},
		{
			name: "sudo user passwordless",
			cmd:  ops.Command{Cmd: "psql -c 'select 1'", Sudo: true, SudoUser: "postgres"},
			want: "sudo -u postgres psql -c 'select 1'",
		},
		{
			name:     "sudo user with password",
			cmd:      ops.Command{Cmd: "whoami", Sudo: true, SudoUser: "deploy"},
			password: "hunter2",
			want:     "echo 'hunter2' | sudo -S -u deploy whoami",
		},
		{
			name:     "password ignored without sudo",
			cmd:      ops.Command{Cmd: "uptime"},
			password: "hunter2",
			want:     "uptime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderCommand(tt.cmd, tt.password); got != tt.want {
				t.Errorf("renderCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCopyWithContext(t *testing.T) {
	// Larger than one copy chunk so the loop runs more than once.
	payload := bytes.Repeat([]byte("shipshape"), 8*1024)

	var dst bytes.Buffer
	if err := copyWithContext(context.Background(), &dst, bytes.NewReader(payload)); err != nil {
		t.Fatalf("copyWithContext() = %v", err)
	}
	if !bytes.Equal(dst.Bytes(), payload) {
		t.Errorf("copied %d bytes, want %d intact", dst.Len(), len(payload))
	}
}

func TestCopyWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	err := copyWithContext(ctx, &dst, strings.NewReader("data"))
	if err != context.Canceled {
		t.Fatalf("copyWithContext() = %v, want context.Canceled", err)
	}
	if dst.Len() != 0 {
		t.Errorf("wrote %d bytes after cancellation", dst.Len())
	}
}
