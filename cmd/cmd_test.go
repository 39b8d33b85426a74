package cmd_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mautops/genqueue/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand 测试子命令注册
func TestRootCommand(t *testing.T) {
	root := cmd.GetRootCmd()
	assert.Equal(t, "genqueue", root.Use)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "server")
	assert.Contains(t, names, "migrate")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

// TestServerCommand_Flags 测试 server 命令参数
func TestServerCommand_Flags(t *testing.T) {
	server, _, err := cmd.GetRootCmd().Find([]string{"server"})
	require.NoError(t, err)
	assert.NotNil(t, server.Flags().Lookup("host"))
	assert.NotNil(t, server.Flags().Lookup("port"))
}

// TestMigrateCommand 测试迁移命令创建数据库
func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "migrate.db")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  driver: sqlite\n  path: "+dbPath+"\nlog:\n  output: stdout\n"), 0644))

	root := cmd.GetRootCmd()
	root.SetArgs([]string{"migrate", "--config", configPath})
	require.NoError(t, root.Execute())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

// TestLoadConfig_MissingFile 测试配置文件不存在
func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := cmd.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
