package cliutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)

	logger, err := SetupSlog(LogOptions{})
	assert.NoError(err)
	assert.NotNil(logger)

	_, err = SetupSlog(LogOptions{LogLevel: "loud"})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{LogFormat: "xml"})
	assert.Error(err)

	logger, err = SetupSlog(LogOptions{LogLevel: "DEBUG", LogFormat: "json", LogPath: filepath.Join(t.TempDir(), "warden.log")})
	assert.NoError(err)
	assert.NotNil(logger)
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	db, err := SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "sub", "warden.sqlite"), 4)
	assert.NoError(err)
	assert.NotNil(db)

	_, err = SetupDatabase("mysql://localhost/warden", 4)
	assert.Error(err)
}
