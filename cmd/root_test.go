package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/police-sync/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"sync", "status", "unlock"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "police-sync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_ConnectionFlags(t *testing.T) {
	for _, name := range []string{"host", "port", "user", "password", "database", "database-url"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s flag", name)
	}
}

func TestSyncCommand_Flags(t *testing.T) {
	for _, name := range []string{"region", "options"} {
		flag := syncCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "sync should have --%s flag", name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "o", flag.Shorthand)
	assert.Equal(t, "table", flag.DefValue)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(eris.New("connect to database")))
	assert.Equal(t, 2, exitCode(usageError{errors.New("unknown flag: --bogus")}))
	assert.Equal(t, 2, exitCode(eris.Wrap(usageError{errors.New("bad")}, "wrapped")))
}

func TestApplyStoreFlags(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	c.Flags().String("host", "", "")
	c.Flags().Int("port", 0, "")
	c.Flags().String("user", "", "")
	c.Flags().String("password", "", "")
	c.Flags().String("database", "", "")
	c.Flags().String("database-url", "", "")
	require.NoError(t, c.ParseFlags([]string{"--host", "db.internal", "--port", "6543"}))

	sc := config.StoreConfig{Host: "localhost", Port: 5432, User: "datamap", Database: "datamap"}
	applyStoreFlags(c, &sc)

	assert.Equal(t, "db.internal", sc.Host)
	assert.Equal(t, 6543, sc.Port)
	assert.Equal(t, "datamap", sc.User, "unset flags keep the configured value")
	assert.Equal(t, "datamap", sc.Database)
	assert.Empty(t, sc.DatabaseURL)
}

func TestExecute_UnknownFlagIsUsageError(t *testing.T) {
	var stderr bytes.Buffer
	code := execute([]string{"sync", "--no-such-flag"}, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "police-sync: ")
	assert.Contains(t, stderr.String(), "no-such-flag")
}

func TestExecute_UnknownCommandIsUsageError(t *testing.T) {
	var stderr bytes.Buffer
	code := execute([]string{"frobnicate"}, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "frobnicate")
}

func TestExecute_UnknownOptionFailsBeforeConnecting(t *testing.T) {
	t.Cleanup(func() { _ = syncCmd.Flags().Set("options", "") })

	var stderr bytes.Buffer
	code := execute([]string{"sync", "--options", "no-crime-load,bogus"}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown option")
	assert.Contains(t, stderr.String(), "bogus")
}

func TestExecute_StatusRejectsUnknownFormat(t *testing.T) {
	t.Cleanup(func() { statusOutput = "table" })

	var stderr bytes.Buffer
	code := execute([]string{"status", "-o", "xml"}, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "xml")
}
