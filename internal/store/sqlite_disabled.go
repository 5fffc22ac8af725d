//go:build !sqlite
// +build !sqlite

package store

import (
	"errors"

	"pulsebot/pkg/logx"
)

// Built without the sqlite tag: the driver is unavailable but the binary
// still links (the memory driver remains the default).
func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("sqlite store support not built (build with -tags sqlite)")
}
