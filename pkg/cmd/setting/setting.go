package setting

import (
	"context"
	"fmt"
	"log"

	"github.com/vinylai/vinylai/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	Key         string
	Value       string
	Description string
	List        bool
}

// Run sets or lists pipeline tunables.
func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("setting: couldn't start orm store: %w", err)
	}

	if cfg.List {
		settings, err := store.ListSettings(ctx, 1, 100)
		if err != nil {
			return err
		}
		for _, s := range settings {
			log.Printf("%s=%s (%s)\n", s.ID, s.Value, s.Description)
		}
		return nil
	}

	if cfg.Key == "" {
		return fmt.Errorf("setting: key is empty")
	}
	if cfg.Value == "" {
		return fmt.Errorf("setting: value is empty")
	}
	switch cfg.Key {
	case "price", "free-generations", "max-duration":
	default:
		return fmt.Errorf("setting: unknown key: %s", cfg.Key)
	}

	s := storage.Setting{
		ID:          cfg.Key,
		Value:       cfg.Value,
		Description: cfg.Description,
	}
	if err := store.SetSetting(ctx, &s); err != nil {
		return fmt.Errorf("setting: couldn't save setting: %w", err)
	}
	return nil
}
