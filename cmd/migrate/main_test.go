package main

import (
	"bytes"
	"fmt"
	"testing"

	"helphub/internal/config"
	"helphub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func sqliteOpener(t *testing.T) (func() (*gorm.DB, *config.Config, error), func() *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	// keeps the shared in-memory database alive between subcommand runs
	keep, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := keep.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	open := func() (*gorm.DB, *config.Config, error) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		return db, &config.Config{Env: "test"}, err
	}
	return open, func() *gorm.DB { return keep }
}

func run(t *testing.T, open func() (*gorm.DB, *config.Config, error), args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewMigrateCommand(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewMigrateCommand(t *testing.T) {
	cmd := NewMigrateCommand(func() (*gorm.DB, *config.Config, error) {
		t.Fatal("inspecting commands must not open the database")
		return nil, nil, nil
	})

	assert.Equal(t, "migrate", cmd.Use)
	for _, name := range []string{"up", "auto", "status", "down"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestAutoThenStatus(t *testing.T) {
	open, keep := sqliteOpener(t)

	out, err := run(t, open, "auto")
	require.NoError(t, err)
	assert.Contains(t, out, "automigrations applied")
	assert.True(t, keep().Migrator().HasTable(&models.Message{}))

	out, err = run(t, open, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "driver=sqlite")
	assert.Contains(t, out, "run_sql=false")
	assert.Contains(t, out, "pending=0")
}

func TestDown_Rejects(t *testing.T) {
	open, _ := sqliteOpener(t)

	_, err := run(t, open, "down", "abc")
	assert.ErrorContains(t, err, "invalid version")

	_, err = run(t, open, "down", "999")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, open, "down", "1")
	assert.ErrorContains(t, err, "has not been applied")
}
