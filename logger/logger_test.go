package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitInstallsLogger(t *testing.T) {
	require.NoError(t, Init())
	Info("logger ready")
	AdminAction("admin-1", "vip_grant", "u1", "hours=24")
}
