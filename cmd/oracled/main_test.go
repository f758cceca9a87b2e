package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func TestCheck(t *testing.T) {
	t.Setenv("APP_CONTRACT", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("DATA_CONTRACT", "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	t.Setenv("LEDGER_URL", "ws://127.0.0.1:8545")

	ctl := newApp()
	var out bytes.Buffer
	ctl.Writer = &out
	require.NoError(t, ctl.Run([]string{"oracled", "check"}))
	require.Contains(t, out.String(), "20 oracles on ws://127.0.0.1:8545")
}

func TestCheckInvalid(t *testing.T) {
	t.Setenv("APP_CONTRACT", "not-an-address")
	t.Setenv("DATA_CONTRACT", "")

	exitCode := -1
	exiter := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = exiter })

	ctl := newApp()
	ctl.Writer = &bytes.Buffer{}
	ctl.ErrWriter = &bytes.Buffer{}
	require.Error(t, ctl.Run([]string{"oracled", "check"}))
	require.Equal(t, 1, exitCode)
}
