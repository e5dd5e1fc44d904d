package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/sparring-backend/internal/data/db"
	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// wireStore opens the configured database and layers the artifact archive
// on top. The memory driver returns a nil *gorm.DB.
func wireStore(log *logger.Logger, cfg Config, clients Clients) (practice.Store, *gorm.DB, error) {
	log.Info("Wiring store...", "driver", cfg.DB.Driver)
	var (
		store practice.Store
		gdb   *gorm.DB
	)
	if cfg.DB.Driver == db.DriverMemory {
		log.Warn("DB_DRIVER=memory; sessions are lost on restart")
		store = practice.NewMemoryStore()
	} else {
		var err error
		gdb, err = db.Open(log, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("init database: %w", err)
		}
		store = practice.NewGormStore(gdb, log)
	}
	if clients.Archive != nil {
		store = practice.WithArchive(store, clients.Archive, log)
	}
	return store, gdb, nil
}
