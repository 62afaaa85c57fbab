package backend

import (
	"fmt"
	"strings"

	"pagos/internal/config"
)

// Types lists the supported backends, the default first.
func Types() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend}
}

// TypeNames is Types as plain strings, for help text and error messages.
func TypeNames() []string {
	names := make([]string, 0, len(Types()))
	for _, t := range Types() {
		names = append(names, t.String())
	}
	return names
}

func unknownType(name string) error {
	return fmt.Errorf("unknown DATA_BACKEND %q: want one of %s", name, strings.Join(TypeNames(), ", "))
}

// FromAppConfig picks the store settings out of the application config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}
	cfg := Config{
		Type:         BackendType(appConfig.DataBackend),
		SQLiteDBPath: appConfig.SQLiteDBPath,
	}
	if !cfg.Type.IsValid() {
		return Config{}, unknownType(appConfig.DataBackend)
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return unknownType(c.Type.String())
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLITE_DB_PATH is required for the sqlite backend")
	}
	return nil
}
