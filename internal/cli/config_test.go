package cli_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/rocky/internal/cli"
)

// Tests for print-config command.

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "data_dir="+c.DataDir())
	cli.AssertContains(t, stdout, "backup_keep=7")
	cli.AssertContains(t, stdout, "backup_interval=23h30m0s")
	cli.AssertContains(t, stdout, "listen=127.0.0.1:8787")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".rocky.json"), `{
		// keep a month of dailies
		"backup_keep": 30,
		"data_dir": "data",
	}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "backup_keep=30")
	cli.AssertContains(t, stdout, "data_dir="+filepath.Join(c.Dir, "data"))
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".rocky.json"))
}

func Test_Print_Config_Global_Config_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	global := filepath.Join(c.Env["HOME"], ".config", "rocky", "config.json")
	writeFile(t, global, `{"listen": "127.0.0.1:9999"}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "listen=127.0.0.1:9999")
	cli.AssertContains(t, stdout, "global_config="+global)
}

func Test_Print_Config_Explicit_Config_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, "custom.json"), `{"backup_interval": "2h"}`)

	stdout := c.MustRun("--config=custom.json", "print-config")
	cli.AssertContains(t, stdout, "backup_interval=2h0m0s")
}

func Test_Print_Config_Log_Level_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--log-level=debug", "print-config")
	cli.AssertContains(t, stdout, "log_level=DEBUG")
}

func Test_Print_Config_Does_Not_Create_Data_Dir_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("print-config")

	stdout, _, _ := c.Run("--data-dir", "x", "print-config")
	cli.AssertContains(t, stdout, "data_dir="+filepath.Join(c.Dir, "x"))

	if fileExists(filepath.Join(c.Dir, "x")) || fileExists(c.DataDir()) {
		t.Fatal("print-config must not create the data directory")
	}
}

// Tests for config errors.

func Test_Config_Explicit_Config_Not_Found_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "nonexistent.json", "print-config")
	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Config_Invalid_JSON_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".rocky.json"), `{invalid json}`)

	stderr := c.MustFail("print-config")
	cli.AssertContains(t, stderr, "invalid")
}

func Test_Config_Invalid_Backup_Keep_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".rocky.json"), `{"backup_keep": 0}`)

	stderr := c.MustFail("load")
	cli.AssertContains(t, stderr, "backup_keep must be at least 1")
}
