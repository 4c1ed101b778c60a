package biometric

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("sensor error")

	tests := []struct {
		name    string
		c       Capability
		want    bool
		wantErr bool
	}{
		{"nil", nil, false, false},
		{"unavailable", Unavailable{}, false, false},
		{"no hardware", &Static{Enrolled: true}, false, false},
		{"not enrolled", &Static{Hardware: true}, false, false},
		{"ready", &Static{Hardware: true, Enrolled: true}, true, false},
		{"error", &Static{Hardware: true, Enrolled: true, Err: boom}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Available(ctx, tt.c)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestStatic_Authenticate(t *testing.T) {
	ctx := context.Background()
	s := &Static{Hardware: true, Enrolled: true, Succeed: true}
	ok, err := s.Authenticate(ctx, "unlock")
	require.NoError(t, err)
	assert.True(t, ok)

	noHW := &Static{Succeed: true}
	ok, _ = noHW.Authenticate(ctx, "unlock")
	assert.False(t, ok)

	assert.Equal(t, 1, s.Prompts())
	assert.Equal(t, 1, noHW.Prompts())
}

func TestParseCommand(t *testing.T) {
	_, err := ParseCommand("   ")
	assert.ErrorIs(t, err, ErrNoCommand)

	c, err := ParseCommand("/usr/local/bin/bio-helper --device 0")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/bio-helper", c.Path)
	assert.Equal(t, []string{"--device", "0"}, c.Args)
	assert.Zero(t, c.Timeout, "no limit unless configured")
}

// writeHelper creates a shell script answering each sub-command with the
// given exit status.
func writeHelper(t *testing.T, hardware, enrolled, auth int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper not available on windows")
	}
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"  has-hardware) exit " + strconv.Itoa(hardware) + " ;;\n" +
		"  is-enrolled) exit " + strconv.Itoa(enrolled) + " ;;\n" +
		"  authenticate) exit " + strconv.Itoa(auth) + " ;;\n" +
		"esac\n" +
		"exit 2\n"
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0700))
	return path
}

func TestCommand(t *testing.T) {
	ctx := context.Background()

	c, err := ParseCommand(writeHelper(t, 0, 1, 0))
	require.NoError(t, err)

	hw, err := c.HasHardware(ctx)
	require.NoError(t, err)
	assert.True(t, hw)

	enrolled, err := c.IsEnrolled(ctx)
	require.NoError(t, err)
	assert.False(t, enrolled)

	ok, err := c.Authenticate(ctx, "Unlock credsafe")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommand_Errors(t *testing.T) {
	ctx := context.Background()

	c, err := ParseCommand(writeHelper(t, 3, 0, 0))
	require.NoError(t, err)
	_, err = c.HasHardware(ctx)
	assert.Error(t, err, "exit status other than 0/1 is an error")

	missing := &Command{Path: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err = missing.IsEnrolled(ctx)
	assert.Error(t, err)

	_, err = (&Command{}).Authenticate(ctx, "x")
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestCommand_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell helper not available on windows")
	}
	path := filepath.Join(t.TempDir(), "slow.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 5\n"), 0700))

	c, err := ParseCommand(path)
	require.NoError(t, err)

	c.Timeout = 50 * time.Millisecond
	_, err = c.Authenticate(context.Background(), "unlock")
	assert.Error(t, err)

	c.Timeout = 0
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Authenticate(ctx, "unlock")
	assert.Error(t, err)
}
